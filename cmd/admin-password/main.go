package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"foundersforum/pkg/auth"
)

type adminSnippet struct {
	Admin struct {
		PasswordHash    string `yaml:"passwordHash"`
		TokenSecret     string `yaml:"tokenSecret"`
		TokenTTLSeconds int    `yaml:"tokenTTLSeconds"`
	} `yaml:"admin"`
}

// admin-password reads a password from stdin and prints the admin block for
// the registration service config.
func main() {
	if len(os.Args) > 1 {
		fmt.Fprintf(os.Stderr, "usage: echo '<password>' | %s\n", os.Args[0])
		os.Exit(2)
	}
	password, err := readPassword(os.Stdin)
	if err != nil {
		exitErr(err)
	}
	out, err := buildSnippet(password)
	if err != nil {
		exitErr(err)
	}
	fmt.Print(out)
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password is empty")
	}
	return password, nil
}

func buildSnippet(password string) (string, error) {
	if err := auth.ValidatePassword(password); err != nil {
		return "", err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("generate token secret: %w", err)
	}
	var snippet adminSnippet
	snippet.Admin.PasswordHash = hash
	snippet.Admin.TokenSecret = hex.EncodeToString(secret)
	snippet.Admin.TokenTTLSeconds = 3600
	data, err := yaml.Marshal(snippet)
	if err != nil {
		return "", fmt.Errorf("encode snippet: %w", err)
	}
	return string(data), nil
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "admin-password: %v\n", err)
	os.Exit(1)
}
