package cli

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/frontiertower/towerbot/internal/config"
)

var inviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "Print the bot's deep link and its QR code",
	RunE:  runInvite,
}

func init() {
	inviteCmd.Flags().String("out", "", "Write the QR code as PNG to this path instead of printing it")
	inviteCmd.Flags().String("start", "", "Deep-link start parameter")
	inviteCmd.Flags().Int("size", 512, "PNG size in pixels")
	rootCmd.AddCommand(inviteCmd)
}

// inviteLink builds the t.me deep link for username.
func inviteLink(username, start string) (string, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return "", fmt.Errorf("BOT_USERNAME is not configured")
	}
	link := "https://t.me/" + url.PathEscape(username)
	if start != "" {
		link += "?start=" + url.QueryEscape(start)
	}
	return link, nil
}

func runInvite(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	start, _ := cmd.Flags().GetString("start")
	link, err := inviteLink(cfg.Channels.Telegram.BotUsername, start)
	if err != nil {
		return err
	}

	out, _ := cmd.Flags().GetString("out")
	if out != "" {
		size, _ := cmd.Flags().GetInt("size")
		if err := qrcode.WriteFile(link, qrcode.Medium, size, out); err != nil {
			return fmt.Errorf("write QR code: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\nQR code saved to %s\n", link, out)
		return nil
	}

	qr, err := qrcode.New(link, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("encode QR code: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), link)
	fmt.Fprint(cmd.OutOrStdout(), qr.ToSmallString(false))
	return nil
}
