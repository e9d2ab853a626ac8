package main

import (
	"context"
	"fmt"
	"io"

	"github.com/soaringjerry/labreport/internal/securestore"
)

// writeContactKey prints a fresh exported key for LABREPORT_CONTACT_KEY,
// matching the configured cipher.
func writeContactKey(ctx context.Context, w io.Writer, cipher string) error {
	p, err := securestore.ProviderByName(cipher)
	if err != nil {
		return err
	}
	st := securestore.New(p, nil)
	key, err := st.GenerateKey(ctx)
	if err != nil {
		return err
	}
	out, err := st.ExportKey(key)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}
