package sync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/driftnote/driftnote/internal/identity"
)

const (
	binarySampleSize   = 8192 // Bytes to sample for text/binary detection
	binaryThresholdPct = 10   // Max % non-printable chars for text files
)

// detectText determines if content is likely text rather than binary.
//
// Detection heuristic (in order):
//  1. Null bytes present → binary
//  2. Invalid UTF-8 → binary
//  3. >10% non-printable control chars → binary
func detectText(data []byte) bool {
	if len(data) == 0 {
		return true
	}

	if bytes.IndexByte(data, 0) != -1 {
		return false
	}

	sampleSize := binarySampleSize
	if len(data) < sampleSize {
		sampleSize = len(data)
	}
	sample := data[:sampleSize]

	if !utf8.Valid(sample) {
		return false
	}

	nonPrintable := 0
	for _, b := range sample {
		// Allow common whitespace: tab, newline, carriage return
		if b < 32 && b != 9 && b != 10 && b != 13 {
			nonPrintable++
		}
		if b == 127 {
			nonPrintable++
		}
	}

	threshold := len(sample) * binaryThresholdPct / 100
	return nonPrintable <= threshold
}

// GenerateUnifiedDiff renders the difference between the remote and local
// versions of a file, remote as the base. Returns "" when identical.
func GenerateUnifiedDiff(path string, remote, local []byte) (string, error) {
	if bytes.Equal(remote, local) {
		return "", nil
	}

	if !detectText(remote) || !detectText(local) {
		return fmt.Sprintf("Binary file %s has changed\n", path), nil
	}

	dmp := diffmatchpatch.New()

	remoteStr, localStr := string(remote), string(local)
	a, b, lineArray := dmp.DiffLinesToChars(remoteStr, localStr)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	patches := dmp.PatchMake(remoteStr, diffs)
	if len(patches) == 0 {
		return "", nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("--- remote/%s\n", path))
	result.WriteString(fmt.Sprintf("+++ local/%s\n", path))
	result.WriteString(dmp.PatchToText(patches))

	return result.String(), nil
}

// Diff writes a unified diff for every file whose local content differs
// from its remote record, without changing anything on either side.
// Fails with ErrNotInitialized when the vault has never been synced.
func (e *Engine) Diff(ctx context.Context, w io.Writer) error {
	if e.signer == nil {
		return identity.ErrNotAuthenticated
	}
	v, err := e.fetchVault(ctx)
	if err != nil {
		return err
	}

	for _, path := range sortedKeys(v.Files) {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := v.Files[path]

		local, err := e.fs.Read(path)
		if err != nil {
			fmt.Fprintf(w, "Only remote: %s\n", path)
			continue
		}
		diff, err := GenerateUnifiedDiff(path, []byte(rec.Content), local)
		if err != nil {
			return err
		}
		if diff != "" {
			fmt.Fprint(w, diff)
		}
	}

	entries, err := e.fs.List()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if _, ok := v.Files[entry.Path]; !ok {
			fmt.Fprintf(w, "Only local: %s\n", entry.Path)
		}
	}
	return nil
}
