// Command smverify lets anyone check a secret market's published commitment
// without the service: it fingerprints criteria text, compares it with a
// posted hash, and opens an encrypted criteria envelope.
//
//	smverify fingerprint < criteria.txt
//	smverify check <hash> < criteria.txt
//	smverify decrypt <envelope>
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/alanyoungcy/secretmarket/internal/crypto"
)

// Test seams for the terminal.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

var errMismatch = errors.New("criteria do not match the commitment")

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin *os.File, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("smverify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	alg := fs.String("alg", crypto.AlgSHA256, "commitment hash algorithm (sha256, keccak256)")
	iterations := fs.Int("iterations", crypto.DefaultIterations, "PBKDF2 iterations for sealed envelopes")
	key := fs.String("key", "", "decryption key (prompted when empty)")
	raw := fs.Bool("raw", false, "hash stdin exactly, keeping a trailing newline")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: smverify [flags] fingerprint | check <hash> | decrypt <envelope>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	var err error
	switch cmd := fs.Arg(0); cmd {
	case "fingerprint":
		err = fingerprint(stdin, stdout, *alg, *raw)
	case "check":
		if fs.NArg() != 2 {
			fs.Usage()
			return 2
		}
		err = check(stdin, stdout, *alg, fs.Arg(1), *raw)
	case "decrypt":
		if fs.NArg() != 2 {
			fs.Usage()
			return 2
		}
		err = decrypt(stdin, stdout, stderr, fs.Arg(1), *key, *iterations)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "smverify: %v\n", err)
		return 1
	}
	return 0
}

func readCriteria(r io.Reader, raw bool) ([]byte, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read criteria: %w", err)
	}
	if !raw {
		s := string(b)
		if t, ok := strings.CutSuffix(s, "\n"); ok {
			s = strings.TrimSuffix(t, "\r")
		}
		b = []byte(s)
	}
	return b, nil
}

func fingerprint(stdin io.Reader, stdout io.Writer, alg string, raw bool) error {
	criteria, err := readCriteria(stdin, raw)
	if err != nil {
		return err
	}
	hash, err := crypto.Fingerprint(alg, criteria)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, hash)
	return err
}

func check(stdin io.Reader, stdout io.Writer, alg, hash string, raw bool) error {
	criteria, err := readCriteria(stdin, raw)
	if err != nil {
		return err
	}
	if !crypto.ValidAlgorithm(alg) {
		return fmt.Errorf("unknown algorithm %q", alg)
	}
	if !crypto.VerifyFingerprint(alg, criteria, hash) {
		return errMismatch
	}
	_, err = fmt.Fprintln(stdout, "ok: criteria match the commitment")
	return err
}

func decrypt(stdin *os.File, stdout, stderr io.Writer, envelope, key string, iterations int) error {
	if key == "" {
		var err error
		if key, err = promptKey(stdin, stderr); err != nil {
			return err
		}
	}
	// Decrypt accepts both envelope formats whatever mode the cipher writes.
	c, err := crypto.NewCipher(crypto.ModeSealed, iterations)
	if err != nil {
		return err
	}
	plain, err := c.Decrypt(envelope, key)
	if err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}
	_, err = fmt.Fprintln(stdout, string(plain))
	return err
}

// promptKey reads the key without echo from a terminal, or the first line of
// stdin otherwise.
func promptKey(stdin *os.File, stderr io.Writer) (string, error) {
	fd := int(stdin.Fd())
	if isTerminal(fd) {
		fmt.Fprint(stderr, "Key or password: ")
		b, err := readPassword(fd)
		fmt.Fprintln(stderr)
		if err != nil {
			return "", fmt.Errorf("read key: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read key: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
