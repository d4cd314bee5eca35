package main

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/4xmen/cafemeet/internal/db"
	"github.com/4xmen/cafemeet/internal/ident"
	"github.com/4xmen/cafemeet/pkg/config"
)

type conversationPairsMigrationOptions struct {
	DatabasePath string
	DryRun       bool
}

type pairConversation struct {
	ID      string
	UserA   string
	UserB   string
	PairKey string
}

// pairPlan describes the rewrite: rekeyed rows get a canonical pair_key, and
// every duplicate folds into the oldest conversation of its pair.
type pairPlan struct {
	Rekeyed    map[string]string // conversation id -> canonical pair key
	Duplicates map[string]string // duplicate id -> surviving id
	Kept       int
}

func runMigrate(cfg *config.Config, out io.Writer, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing migration target (supported: conversation-pairs)")
	}

	switch args[0] {
	case "conversation-pairs":
		opts, err := parseConversationPairsMigrationArgs(cfg, args[1:])
		if err != nil {
			return err
		}
		return runConversationPairsMigration(out, opts)
	default:
		return fmt.Errorf("unknown migration target: %s", args[0])
	}
}

func parseConversationPairsMigrationArgs(cfg *config.Config, args []string) (conversationPairsMigrationOptions, error) {
	opts := conversationPairsMigrationOptions{DatabasePath: cfg.DatabasePath}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--dry-run":
			opts.DryRun = true
		case "--database":
			i++
			if i >= len(args) || strings.TrimSpace(args[i]) == "" {
				return opts, fmt.Errorf("--database requires a path")
			}
			opts.DatabasePath = args[i]
		default:
			return opts, fmt.Errorf("unknown migration flag: %s", args[i])
		}
	}

	if strings.TrimSpace(opts.DatabasePath) == "" {
		return opts, fmt.Errorf("database path cannot be empty")
	}
	return opts, nil
}

func runConversationPairsMigration(out io.Writer, opts conversationPairsMigrationOptions) error {
	if _, err := os.Stat(opts.DatabasePath); err != nil {
		return fmt.Errorf("failed to access database: %w", err)
	}

	dbConn, err := sql.Open("sqlite3", opts.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer dbConn.Close()
	// One connection so BEGIN and COMMIT land on the same session.
	dbConn.SetMaxOpenConns(1)

	if err := dbConn.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := dbConn.Exec("BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("failed to start migration transaction: %w", err)
	}
	inTx := true
	defer func() {
		if inTx {
			_, _ = dbConn.Exec("ROLLBACK")
		}
	}()

	indexed, err := pairIndexExists(dbConn)
	if err != nil {
		return fmt.Errorf("failed to inspect conversations schema: %w", err)
	}
	if indexed {
		if _, err := dbConn.Exec("COMMIT"); err != nil {
			return fmt.Errorf("failed to finish migration transaction: %w", err)
		}
		inTx = false
		fmt.Fprintln(out, "Conversation pairs migration: already migrated (unique pair index present).")
		return nil
	}

	conversations, err := loadPairConversations(dbConn)
	if err != nil {
		return err
	}
	plan, err := planPairMigration(conversations)
	if err != nil {
		return err
	}

	var messageCount int
	if err := dbConn.QueryRow("SELECT COUNT(*) FROM messages").Scan(&messageCount); err != nil {
		return fmt.Errorf("failed to count messages: %w", err)
	}

	if opts.DryRun {
		fmt.Fprintf(out, "Dry-run successful. Database: %s\n", opts.DatabasePath)
		fmt.Fprintf(out, "Would rekey %d conversations and merge %d duplicates into %d conversations.\n",
			len(plan.Rekeyed), len(plan.Duplicates), plan.Kept)
		if _, err := dbConn.Exec("ROLLBACK"); err != nil {
			return fmt.Errorf("failed to finish dry-run rollback: %w", err)
		}
		inTx = false
		return nil
	}

	if err := applyPairPlan(dbConn, plan); err != nil {
		return err
	}

	if err := validatePairMigration(dbConn, plan.Kept, messageCount); err != nil {
		return err
	}

	if _, err := dbConn.Exec("COMMIT"); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	inTx = false

	fmt.Fprintf(out, "Migration completed. Database: %s\n", opts.DatabasePath)
	fmt.Fprintf(out, "Rekeyed %d conversations and merged %d duplicates into %d conversations.\n",
		len(plan.Rekeyed), len(plan.Duplicates), plan.Kept)
	return nil
}

// ensureConversationPairsMigrated refuses to start the server on a database
// whose conversations would break the unique pair index.
func ensureConversationPairsMigrated(databasePath string) error {
	if _, err := os.Stat(databasePath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to access database path: %w", err)
	}

	dbConn, err := sql.Open("sqlite3", databasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer dbConn.Close()

	if err := dbConn.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	exists, err := tableExists(dbConn, "conversations")
	if err != nil || !exists {
		return err
	}
	indexed, err := pairIndexExists(dbConn)
	if err != nil {
		return fmt.Errorf("failed to inspect conversations schema: %w", err)
	}
	if indexed {
		return nil
	}

	conversations, err := loadPairConversations(dbConn)
	if err != nil {
		return err
	}
	plan, err := planPairMigration(conversations)
	if err != nil {
		return err
	}
	if len(plan.Rekeyed) > 0 || len(plan.Duplicates) > 0 {
		return fmt.Errorf("duplicate conversation pairs detected. Run `cafemeet migrate conversation-pairs --database %s` before starting server", databasePath)
	}
	return nil
}

func tableExists(dbConn *sql.DB, name string) (bool, error) {
	var n int
	err := dbConn.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	return n > 0, err
}

func pairIndexExists(dbConn *sql.DB) (bool, error) {
	var n int
	err := dbConn.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?", db.PairIndex).Scan(&n)
	return n > 0, err
}

func loadPairConversations(dbConn *sql.DB) ([]pairConversation, error) {
	rows, err := dbConn.Query(`
		SELECT id, user_a, user_b, pair_key
		FROM conversations
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversations: %w", err)
	}
	defer rows.Close()

	var conversations []pairConversation
	for rows.Next() {
		var c pairConversation
		if err := rows.Scan(&c.ID, &c.UserA, &c.UserB, &c.PairKey); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while reading conversations: %w", err)
	}
	return conversations, nil
}

// planPairMigration expects conversations oldest first.
func planPairMigration(conversations []pairConversation) (pairPlan, error) {
	plan := pairPlan{
		Rekeyed:    make(map[string]string),
		Duplicates: make(map[string]string),
	}
	var invalid []string
	survivors := make(map[string]string)

	for _, c := range conversations {
		if c.UserA == "" || c.UserB == "" || c.UserA == c.UserB {
			invalid = append(invalid, c.ID)
			continue
		}
		key := ident.PairKey(c.UserA, c.UserB)
		if keep, ok := survivors[key]; ok {
			plan.Duplicates[c.ID] = keep
			continue
		}
		survivors[key] = c.ID
		if c.PairKey != key {
			plan.Rekeyed[c.ID] = key
		}
	}
	if len(invalid) > 0 {
		return pairPlan{}, fmt.Errorf("invalid participants in conversation ids: %v", invalid)
	}

	plan.Kept = len(survivors)
	return plan, nil
}

func applyPairPlan(dbConn *sql.DB, plan pairPlan) error {
	for dup, keep := range plan.Duplicates {
		if _, err := dbConn.Exec("UPDATE messages SET conversation_id = ? WHERE conversation_id = ?", keep, dup); err != nil {
			return fmt.Errorf("failed to move messages of conversation %s: %w", dup, err)
		}
		if _, err := dbConn.Exec("DELETE FROM conversations WHERE id = ?", dup); err != nil {
			return fmt.Errorf("failed to delete duplicate conversation %s: %w", dup, err)
		}
	}

	for id, key := range plan.Rekeyed {
		if _, err := dbConn.Exec("UPDATE conversations SET pair_key = ? WHERE id = ?", key, id); err != nil {
			return fmt.Errorf("failed to rekey conversation %s: %w", id, err)
		}
	}

	if _, err := dbConn.Exec("CREATE UNIQUE INDEX " + db.PairIndex + " ON conversations(pair_key)"); err != nil {
		return fmt.Errorf("failed to create %s: %w", db.PairIndex, err)
	}
	return nil
}

func validatePairMigration(dbConn *sql.DB, expectedConversations, expectedMessages int) error {
	var conversationCount int
	if err := dbConn.QueryRow("SELECT COUNT(*) FROM conversations").Scan(&conversationCount); err != nil {
		return fmt.Errorf("failed to validate conversations count: %w", err)
	}
	if conversationCount != expectedConversations {
		return fmt.Errorf("conversation count mismatch after migration: got %d want %d", conversationCount, expectedConversations)
	}

	var messageCount int
	if err := dbConn.QueryRow("SELECT COUNT(*) FROM messages").Scan(&messageCount); err != nil {
		return fmt.Errorf("failed to validate messages count: %w", err)
	}
	if messageCount != expectedMessages {
		return fmt.Errorf("message count mismatch after migration: got %d want %d", messageCount, expectedMessages)
	}

	var orphans int
	if err := dbConn.QueryRow(`
		SELECT COUNT(*) FROM messages m
		LEFT JOIN conversations c ON c.id = m.conversation_id
		WHERE c.id IS NULL
	`).Scan(&orphans); err != nil {
		return fmt.Errorf("failed to validate message ownership: %w", err)
	}
	if orphans > 0 {
		return fmt.Errorf("%d messages lost their conversation during migration", orphans)
	}

	indexed, err := pairIndexExists(dbConn)
	if err != nil {
		return fmt.Errorf("failed to validate conversations schema: %w", err)
	}
	if !indexed {
		return fmt.Errorf("%s missing after migration", db.PairIndex)
	}
	return nil
}
