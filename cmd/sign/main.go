package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/api/middleware"
	"github.com/ronitzkoai/KayanConnectApp-sub001/internal/crypto"
)

func main() {
	privKeyB64 := flag.String("key", "", "Base64-encoded Ed25519 private key or seed")
	userID := flag.String("user", "", "User UUID")
	bodyFile := flag.String("body", "", "File containing request body (or use stdin)")
	empty := flag.Bool("empty", false, "Sign an empty body (GET requests)")
	curl := flag.Bool("curl", false, "Print headers as curl -H arguments")
	flag.Parse()

	if *privKeyB64 == "" || *userID == "" {
		fmt.Fprintln(os.Stderr, "Usage: sign -key <private-key-base64> -user <user-uuid> [-body <file> | -empty] [-curl]")
		fmt.Fprintln(os.Stderr, "  Reads body from stdin if neither -body nor -empty is given")
		os.Exit(1)
	}

	priv, err := crypto.ParsePrivateKey(*privKeyB64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid private key: %v\n", err)
		os.Exit(1)
	}

	var body []byte
	switch {
	case *empty:
	case *bodyFile != "":
		body, err = os.ReadFile(*bodyFile)
	default:
		body, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read body: %v\n", err)
		os.Exit(1)
	}

	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate nonce: %v\n", err)
		os.Exit(1)
	}
	nonce := hex.EncodeToString(nonceBytes)
	timestamp := time.Now().UnixMilli()
	signature := crypto.Sign(priv, body, nonce, timestamp)

	headers := [][2]string{
		{middleware.HeaderUser, *userID},
		{middleware.HeaderNonce, nonce},
		{middleware.HeaderTimestamp, fmt.Sprint(timestamp)},
		{middleware.HeaderSignature, signature},
	}
	for _, h := range headers {
		if *curl {
			fmt.Printf("-H '%s: %s' ", h[0], h[1])
		} else {
			fmt.Printf("%s: %s\n", h[0], h[1])
		}
	}
	if *curl {
		fmt.Println()
	}
}
