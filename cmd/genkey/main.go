package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
)

func main() {
	name := flag.String("name", "", "Display name; when set, also print a /register request body")
	flag.Parse()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "key generation failed: %v\n", err)
		os.Exit(1)
	}
	pubB64 := base64.StdEncoding.EncodeToString(pub)

	fmt.Printf("Public key (base64):  %s\n", pubB64)
	fmt.Printf("Private key (base64): %s\n", base64.StdEncoding.EncodeToString(priv))

	if *name != "" {
		body, _ := json.Marshal(map[string]string{
			"public_key":   pubB64,
			"display_name": *name,
		})
		fmt.Printf("Register body:        %s\n", body)
	}
}
