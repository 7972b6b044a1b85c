package main

import (
	"chat-session/auth"
	"chat-session/repositories"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/olekukonko/tablewriter"
)

// Prints the credential kept by the terminal client and what its claims say.
func main() {
	dbPath := flag.String("db", "", "Path to the client badger DB (BADGER_FILEPATH)")
	flag.Parse()
	if *dbPath == "" {
		log.Fatal("-db is required")
	}

	db, err := openDB(*dbPath)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	credential, ok := repositories.NewCredentialRepository(db, slog.Default()).Get()
	if !ok {
		fmt.Println("No stored credential")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"User ID", "Subject", "Roles", "Issued", "Expires", "Status"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	claims, err := auth.InspectToken(credential.AccessToken)
	if err != nil {
		table.Append([]string{"-", "-", "-", "-", "-", "opaque token"})
		table.Render()
		return
	}

	status := "valid"
	switch {
	case credential.ExpiresAt.IsZero():
		status = "no expiry"
	case auth.ExpiresWithin(credential, time.Now(), 0):
		status = "expired"
	case auth.ExpiresWithin(credential, time.Now(), time.Minute):
		status = "expiring"
	}

	issued := "-"
	if claims.IssuedAt != nil {
		issued = claims.IssuedAt.Format(time.DateTime)
	}
	expires := "-"
	if !credential.ExpiresAt.IsZero() {
		expires = credential.ExpiresAt.Format(time.DateTime)
	}
	table.Append([]string{claims.UserID, claims.Subject, strings.Join(claims.Roles, ","), issued, expires, status})
	table.Render()
}

func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)
	return badger.Open(opts)
}
