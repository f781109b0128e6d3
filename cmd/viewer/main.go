// Command viewer inspects the local chat cache offline: it renders the
// cached chat list and, given a chat id, the cached timeline. Reads the
// same Badger directory as the sync process; run it while the sync
// process is stopped.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"

	"chat-sync/repositories"
)

type Config struct {
	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	LogLevel       string `env:"LOG_LEVEL,default=warn"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Viewer error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	chatID := flag.String("chat", "", "chat id to render the cached timeline of")
	flag.Parse()

	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithReadOnly(true).
		WithLoggingLevel(badger.ERROR))
	if err != nil {
		return fmt.Errorf("cache opening failed: %w", err)
	}
	defer func() { _ = db.Close() }()

	if *chatID != "" {
		return renderTimeline(repositories.NewMessageRepository(db, log, nil), *chatID)
	}
	return renderChats(repositories.NewChatRepository(db, log))
}

func renderChats(repository repositories.ChatRepository) error {
	chats, err := repository.GetChats()
	if err != nil {
		return err
	}
	color.Green.Printf("%d cached chats\n", len(chats))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Name", "Group", "Members", "Unread", "Updated"})
	for _, chat := range chats {
		table.Append([]string{
			chat.ID,
			chat.DisplayName,
			fmt.Sprintf("%t", chat.IsGroup),
			fmt.Sprintf("%d", len(chat.Participants)),
			fmt.Sprintf("%d", chat.UnreadCount),
			chat.UpdatedAt.Format(time.DateTime),
		})
	}
	table.Render()
	return nil
}

func renderTimeline(repository repositories.MessageRepository, chatID string) error {
	messages, _, err := repository.GetMessages(chatID, nil)
	if err != nil {
		return err
	}
	color.Green.Printf("%d cached messages in %s\n", len(messages), chatID)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"At", "Sender", "Status", "Content", "Read by"})
	for _, message := range messages {
		table.Append([]string{
			message.CreatedAt.Format(time.TimeOnly),
			message.SenderID,
			message.Status.String(),
			message.Content,
			fmt.Sprintf("%d", len(message.ReadBy)),
		})
	}
	table.Render()
	return nil
}
