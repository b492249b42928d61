package cmd

import (
	"context"
	"fmt"
)

// Mute adds a pubkey to the mute list. Private entries are encrypted so
// only this identity can see who is muted.
func Mute(ctx context.Context, pubkey string, private bool) {
	app, err := OpenApp(true)
	if err != nil {
		HandleError(err)
	}
	defer app.Close()

	if err := app.Shares.AddToMuteList(ctx, pubkey, private); err != nil {
		HandleError(err)
	}
	fmt.Printf("Muted %s\n", pubkey)
}

// Mutes prints the mute list.
func Mutes(ctx context.Context) {
	app, err := OpenApp(true)
	if err != nil {
		HandleError(err)
	}
	defer app.Close()

	list, err := app.Shares.FetchMuteList(ctx)
	if err != nil {
		HandleError(err)
	}
	if len(list.Public) == 0 && len(list.Private) == 0 {
		fmt.Println("Mute list is empty")
		return
	}
	for _, pk := range list.Public {
		fmt.Printf("public   %s\n", pk)
	}
	for _, pk := range list.Private {
		fmt.Printf("private  %s\n", pk)
	}
}
