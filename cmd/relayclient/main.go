// The relayclient command exercises a running relay server from the
// command line.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/oblink/outbound-relay/api"
	"github.com/oblink/outbound-relay/api/clients"
	"github.com/oblink/outbound-relay/common"
)

var flagServerAddr *cli.StringFlag = &cli.StringFlag{
	Name:  "relay-server-addr",
	Value: "http://127.0.0.1:8080",
	Usage: "Relay server address to request",
}

var flagMethod = &cli.StringFlag{
	Name:  "method",
	Value: "GET",
	Usage: "HTTP method of the relayed request",
}
var flagOrigin = &cli.StringFlag{
	Name:     "origin",
	Required: true,
	Usage:    "Destination origin, scheme://host[:port]",
}
var flagPath = &cli.StringFlag{
	Name:  "path",
	Value: "/",
	Usage: "Destination path",
}
var flagQuery = &cli.StringSliceFlag{
	Name:  "query",
	Usage: "Query parameter as name=value, repeatable",
}
var flagHeader = &cli.StringSliceFlag{
	Name:  "header",
	Usage: "Header as name=value, repeatable",
}
var flagBody = &cli.StringFlag{
	Name:  "body",
	Usage: "Request body",
}
var flagCertPath = &cli.StringFlag{
	Name:  "cert-path",
	Usage: "Client certificate path relative to the certificate root",
}
var flagKeyPath = &cli.StringFlag{
	Name:  "key-path",
	Usage: "Client key path relative to the certificate root",
}
var flagCACertPath = &cli.StringFlag{
	Name:  "ca-cert-path",
	Usage: "CA bundle path relative to the certificate root",
}
var flagNoFollowRedirects = &cli.BoolFlag{
	Name:  "no-follow-redirects",
	Usage: "Return redirect responses instead of following them",
}

var flagSignData = &cli.StringFlag{
	Name:     "data",
	Required: true,
	Usage:    "Payload to sign",
}
var flagSignKeyPath = &cli.StringFlag{
	Name:     "key-path",
	Required: true,
	Usage:    "Private key path relative to the certificate root",
}
var flagHashAlgorithm = &cli.StringFlag{
	Name:  "hash-algorithm",
	Value: "SHA256",
	Usage: "Hash algorithm to sign with",
}
var flagCryptoAlgorithm = &cli.StringFlag{
	Name:  "crypto-algorithm",
	Usage: "Set to PS for RSA-PSS padding",
}

func main() {
	app := &cli.App{
		Name:    "relayclient",
		Usage:   "call a relay server",
		Version: common.Version,
		Flags: []cli.Flag{
			flagServerAddr,
		},
		Commands: []*cli.Command{
			{
				Name:        "relay",
				Usage:       "relay a request to a destination",
				Description: "Forwards a fully described request through the relay server and prints the normalized result.",
				Flags: []cli.Flag{
					flagMethod,
					flagOrigin,
					flagPath,
					flagQuery,
					flagHeader,
					flagBody,
					flagCertPath,
					flagKeyPath,
					flagCACertPath,
					flagNoFollowRedirects,
				},
				Action: runRelay,
			},
			{
				Name:        "sign",
				Usage:       "sign a payload with a stored key",
				Description: "Requests a detached base64 signature over the payload.",
				Flags: []cli.Flag{
					flagSignData,
					flagSignKeyPath,
					flagHashAlgorithm,
					flagCryptoAlgorithm,
				},
				Action: runSign,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runRelay(cCtx *cli.Context) error {
	req := &api.RelayRequest{
		Method:  cCtx.String(flagMethod.Name),
		Origin:  cCtx.String(flagOrigin.Name),
		Path:    cCtx.String(flagPath.Name),
		Query:   parsePairs(cCtx.StringSlice(flagQuery.Name)),
		Headers: parsePairs(cCtx.StringSlice(flagHeader.Name)),
		Body:    cCtx.String(flagBody.Name),
	}
	if certPath := cCtx.String(flagCertPath.Name); certPath != "" {
		req.TLS = &api.TLSParams{
			CertPath:   certPath,
			KeyPath:    cCtx.String(flagKeyPath.Name),
			CACertPath: cCtx.String(flagCACertPath.Name),
		}
	}

	client := &clients.RelayClient{ServerAddr: cCtx.String(flagServerAddr.Name)}
	result, err := client.Relay(req, !cCtx.Bool(flagNoFollowRedirects.Name))
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runSign(cCtx *cli.Context) error {
	client := &clients.RelayClient{ServerAddr: cCtx.String(flagServerAddr.Name)}
	resp, err := client.Sign(&api.SignRequest{
		Data:            cCtx.String(flagSignData.Name),
		KeyPath:         cCtx.String(flagSignKeyPath.Name),
		HashAlgorithm:   cCtx.String(flagHashAlgorithm.Name),
		CryptoAlgorithm: cCtx.String(flagCryptoAlgorithm.Name),
	})
	if err != nil {
		return err
	}
	return printJSON(resp)
}

// parsePairs splits repeatable name=value flags into a map.
func parsePairs(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	m := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, _ := strings.Cut(pair, "=")
		m[name] = value
	}
	return m
}

func printJSON(payload any) error {
	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
