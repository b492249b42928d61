package cmd

import (
	"fmt"
	"os"

	"github.com/driftnote/driftnote/internal/crypto"
	"github.com/driftnote/driftnote/internal/identity"
)

// IdentityShow prints the public key of the stored identity.
func IdentityShow() {
	app, err := OpenApp(true)
	if err != nil {
		HandleError(err)
	}
	defer app.Close()

	fmt.Println(app.Signer.PublicKey())
}

// IdentityExport writes a passphrase-encrypted backup of the identity.
func IdentityExport(path string) {
	app, err := OpenApp(true)
	if err != nil {
		HandleError(err)
	}
	defer app.Close()

	pass, err := ReadPassphraseConfirm()
	if err != nil {
		HandleError(err)
	}
	defer crypto.ClearBytes(pass)

	if err := identity.Export(app.Signer, pass, path); err != nil {
		HandleError(err)
	}
	fmt.Printf("Identity backed up to %s\n", path)
}

// IdentityImport restores an identity from an encrypted backup and
// stores it, replacing any existing identity.
func IdentityImport(path string) {
	root, err := os.Getwd()
	if err != nil {
		HandleError(err)
	}

	pass, err := ReadPassphrase("Backup passphrase: ")
	if err != nil {
		HandleError(err)
	}
	defer crypto.ClearBytes(pass)

	signer, err := identity.Import(pass, path)
	if err != nil {
		HandleError(err)
	}

	idStore := identity.NewStore(root)
	idStore.Passphrase = ReadPassphraseConfirm
	if err := idStore.Save(signer); err != nil {
		HandleError(err)
	}
	fmt.Printf("Imported identity %s\n", signer.PublicKey())
}
