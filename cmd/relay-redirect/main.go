package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/relay/pkg/openid"
	"github.com/platinummonkey/relay/pkg/state"
)

// relay-redirect builds the provider redirect for a registered record and
// persists it, so the mail-server host can hand the user a URL without
// talking to the web service. Usage:
//
//	relay-redirect -store-root /var/lib/relay TOKEN
func main() {
	storeRoot := flag.String("store-root", "/var/lib/relay", "Correlation store root directory")
	quiet := flag.Bool("quiet", false, "Print only the redirect URL")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: relay-redirect [-store-root DIR] [-quiet] TOKEN")
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	log := logrus.NewEntry(logger)

	token, err := state.ParseToken(flag.Arg(0))
	if err != nil {
		log.WithError(err).Fatal("invalid token")
	}

	store, err := state.NewFileSystemStore(*storeRoot)
	if err != nil {
		log.WithError(err).Fatal("failed to open store")
	}

	ctx := context.Background()
	if !*quiet {
		printFields(ctx, store, token)
	}

	initiator := openid.NewInitiator(store, openid.NewLibraryConsumer(), log)
	redirect, err := initiator.BuildRedirect(ctx, token)
	if err != nil {
		log.WithError(err).Fatal("failed to build redirect")
	}
	fmt.Println(redirect)
}

func printFields(ctx context.Context, store state.Store, token state.Token) {
	for _, name := range []string{state.FieldIdentityURL, state.FieldRealm, state.FieldReturnTo} {
		value, err := store.GetField(ctx, token, name)
		if err != nil {
			continue
		}
		fmt.Fprintf(os.Stderr, "%s: %s\n", name, value)
	}
}
