package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/driftnote/driftnote/internal/config"
	"github.com/driftnote/driftnote/internal/identity"
)

// Init prepares the current directory as a vault: writes the config
// file and creates an identity when none exists.
func Init() {
	root, err := os.Getwd()
	if err != nil {
		HandleError(err)
	}

	cfgPath := filepath.Join(root, config.DefaultFile)
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.Default(root).Save(root); err != nil {
			HandleError(err)
		}
		fmt.Printf("Created %s\n", config.DefaultFile)
	} else {
		fmt.Printf("%s already present\n", config.DefaultFile)
	}

	idStore := identity.NewStore(root)
	idStore.Passphrase = ReadPassphraseConfirm

	signer, err := idStore.Load()
	if err == nil {
		fmt.Printf("Identity already exists: %s\n", signer.PublicKey())
		return
	}

	signer, err = identity.Generate()
	if err != nil {
		HandleError(err)
	}
	if err := idStore.Save(signer); err != nil {
		HandleError(err)
	}

	fmt.Println("Created new identity")
	fmt.Printf("Public key: %s\n", signer.PublicKey())
	fmt.Println()
	fmt.Println("Share this public key with peers so they can send you documents.")
	fmt.Println("Run 'driftnote identity export <file>' to back up the private key.")
}
