package commands

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fedora-infra/fasjson-client/pkg/fasjson"
)

const getCertCommandName = "get-cert"

// getCertKeys maps get-cert flags to their configuration keys.
var getCertKeys = map[string]string{
	"username":    "get-cert.username",
	"private-key": "get-cert.private_key",
	"save-to":     "get-cert.save_to",
	"overwrite":   "get-cert.overwrite",
	"existing":    "get-cert.existing",
}

// NewGetCertCommand creates the get-cert command.
func NewGetCertCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   getCertCommandName,
		Short: "Get a certificate for a user",
		Long: `Get a certificate for the provided username.

The certificate can be an existing one or a new one. A new certificate
needs a private key, which is generated if the file does not exist.`,
		Example: `  fasjson-client get-cert -p ~/.fedora.key -s ~/.fedora.crt
  fasjson-client get-cert --existing -s ~/.fedora.crt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runGetCert(cmd.Context())
		},
	}

	cmd.Flags().StringP("username", "u", "", "your FAS username (default: the current user)")
	cmd.Flags().StringP("private-key", "p", "", "path to the private key, generated if it does not exist")
	cmd.Flags().StringP("save-to", "s", "", "path to save the certificate to")
	cmd.Flags().Bool("overwrite", false, "overwrite the destination file if it exists")
	cmd.Flags().Bool("existing", false, "retrieve an existing certificate instead of generating a new one")

	return cmd
}

func (a *App) runGetCert(ctx context.Context) error {
	opts := a.settings.GetCert

	if opts.SaveTo == "" {
		return ErrSaveToRequired
	}

	saveTo, err := expandHome(opts.SaveTo)
	if err != nil {
		return err
	}

	if _, err := os.Stat(saveTo); err == nil && !opts.Overwrite {
		return fmt.Errorf("%w: %s", ErrFileExists, saveTo)
	}

	username := opts.Username
	if username == "" {
		current, err := user.Current()
		if err != nil {
			return fmt.Errorf("%w: you must provide a username", ErrInvalidArgument)
		}

		username = current.Username
	}

	if opts.Existing {
		return a.saveExisting(ctx, username, saveTo)
	}

	if opts.PrivateKey == "" {
		return ErrPrivateKeyNeeded
	}

	keyPath, err := expandHome(opts.PrivateKey)
	if err != nil {
		return err
	}

	var key *rsa.PrivateKey

	if _, err := os.Stat(keyPath); err == nil {
		key, err = loadPrivateKey(keyPath)
		if err != nil {
			return err
		}
	} else {
		a.logger.Debug("Generating private key...", map[string]interface{}{"path": keyPath})

		key, err = makePrivateKey(keyPath)
		if err != nil {
			return err
		}
	}

	a.logger.Debug("Generating CSR...", nil)

	csr, err := makeCSR(username, key)
	if err != nil {
		return err
	}

	a.logger.Debug("Uploading CSR for signature...", nil)

	cert, err := a.signCSR(ctx, username, csr)
	if err != nil {
		return err
	}

	if err := writeCertificate(cert, saveTo); err != nil {
		return err
	}

	a.logger.Info("Certificate generated, signed and written to "+saveTo, nil)

	return nil
}

func (a *App) signCSR(ctx context.Context, username, csr string) (*x509.Certificate, error) {
	client, err := a.Client(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := client.Call(ctx, "sign_csr", fasjson.Args{"user": username, "csr": csr})
	if err != nil {
		var apiErr *fasjson.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("could not sign the CSR (%d: %w, %v)", apiErr.Code, err, apiErr.Body())
		}

		return nil, err
	}

	result, _ := resp.Result().(map[string]interface{})

	encoded, ok := result["certificate"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: no certificate in the sign_csr result", ErrBadCertificate)
	}

	return parseCertificate(encoded)
}

func (a *App) saveExisting(ctx context.Context, username, saveTo string) error {
	a.logger.Debug("Looking for an existing certificate...", nil)

	client, err := a.Client(ctx)
	if err != nil {
		return fmt.Errorf("could not get existing certificate: %w", err)
	}

	resp, err := client.Call(ctx, "get_user", fasjson.Args{"username": username})
	if err != nil {
		if fasjson.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrUserNotFound, username)
		}

		return err
	}

	result, _ := resp.Result().(map[string]interface{})
	encoded, _ := result["certificates"].([]interface{})

	certs := make([]*x509.Certificate, 0, len(encoded))

	for _, item := range encoded {
		text, ok := item.(string)
		if !ok {
			continue
		}

		cert, err := parseCertificate(text)
		if err != nil {
			return err
		}

		certs = append(certs, cert)
	}

	latest := latestCertificate(certs)
	if latest == nil {
		return ErrNoCertificate
	}

	if err := writeCertificate(latest, saveTo); err != nil {
		return err
	}

	a.logger.Info("Certificate written to "+saveTo, nil)

	return nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to expand %s: %w", path, err)
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
