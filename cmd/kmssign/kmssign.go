// Command kmssign signs a file with a key held in a remote KMS and
// writes the detached signature next to it.
package main

import (
	"context"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/cloudflare/cfssl/log"
	"github.com/spf13/afero"

	"github.com/cloudsign/kmssigner"
	_ "github.com/cloudsign/kmssigner/azure"
	_ "github.com/cloudsign/kmssigner/google"
)

var (
	keyURI  string
	inFile  string
	outFile string
	showKey bool
)

func init() {
	flag.StringVar(&keyURI, "key", "", "Remote key URI (gcpkms:// or azurekv://)")
	flag.StringVar(&inFile, "in", "", "File to sign")
	flag.StringVar(&outFile, "out", "", "Detached signature output file (default <in>.sig)")
	flag.BoolVar(&showKey, "show-key", false, "Print the resolved public key as PEM and exit")
	flag.IntVar(&log.Level, "loglevel", 1, "Degree of logging")
}

func main() {
	flag.Parse()
	if err := run(afero.NewOsFs(), os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(fs afero.Fs, out io.Writer) error {
	if keyURI == "" {
		return errors.New("no -key URI given")
	}
	ctx := context.Background()

	signer, err := kmssigner.Open(keyURI)
	if err != nil {
		return err
	}
	desc, err := signer.Descriptor(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "key id: %s\n", desc.KeyID)

	if showKey {
		return pem.Encode(out, &pem.Block{Type: "PUBLIC KEY", Bytes: desc.PublicKeyDER})
	}

	if inFile == "" {
		return errors.New("no -in file given")
	}
	message, err := afero.ReadFile(fs, inFile)
	if err != nil {
		return err
	}

	sig, err := kmssigner.SignMessage(ctx, signer, message)
	if err != nil {
		return err
	}

	dest := outFile
	if dest == "" {
		dest = inFile + ".sig"
	}
	if err := afero.WriteFile(fs, dest, sig.Bytes, 0644); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s signature to %s\n", sig.Algorithm, dest)
	return nil
}
