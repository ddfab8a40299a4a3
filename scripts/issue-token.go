package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/swanstudios/scheduling-server-go/internal/util"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/issue-token.go <user-id>\n")
		os.Exit(1)
	}

	userID, err := strconv.ParseInt(os.Args[1], 10, 64)
	if err != nil || userID <= 0 {
		fmt.Fprintf(os.Stderr, "Error: user id must be a positive integer\n")
		os.Exit(1)
	}

	token, err := util.GenerateToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("token: %s\n", token)
	fmt.Printf("UPDATE users SET api_token_hash = '%s' WHERE id = %d;\n", util.HashToken(token), userID)
}
