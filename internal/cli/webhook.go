package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/frontiertower/towerbot/internal/config"
	"github.com/frontiertower/towerbot/internal/telegram"
)

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Manage the Telegram webhook registration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var webhookSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Register <WEBHOOK_URL>/telegram with Telegram",
	RunE:  runWebhookSet,
}

var webhookDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the Telegram webhook",
	RunE:  runWebhookDelete,
}

func init() {
	webhookSetCmd.Flags().String("url", "", "Public base URL (overrides WEBHOOK_URL)")
	webhookCmd.AddCommand(webhookSetCmd)
	webhookCmd.AddCommand(webhookDeleteCmd)
	rootCmd.AddCommand(webhookCmd)
}

func telegramClientFromConfig() (*telegram.Client, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(cfg.Channels.Telegram.Token) == "" {
		return nil, nil, fmt.Errorf("BOT_TOKEN is not configured")
	}
	return telegram.NewClient(cfg.Channels.Telegram.Token, cfg.Channels.Telegram.APIBase, nil), cfg, nil
}

// webhookEndpoint appends the update path to the public base URL.
func webhookEndpoint(base string) (string, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return "", fmt.Errorf("webhook URL is required (--url or WEBHOOK_URL)")
	}
	if !strings.HasPrefix(base, "https://") {
		return "", fmt.Errorf("webhook URL must use https: %s", base)
	}
	return base + "/telegram", nil
}

func runWebhookSet(cmd *cobra.Command, args []string) error {
	client, cfg, err := telegramClientFromConfig()
	if err != nil {
		return err
	}
	base, _ := cmd.Flags().GetString("url")
	if base == "" {
		base = cfg.Gateway.WebhookURL
	}
	endpoint, err := webhookEndpoint(base)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.SetWebhook(ctx, endpoint, cfg.Gateway.WebhookSecret); err != nil {
		return fmt.Errorf("setWebhook: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s webhook set to %s\n", color.GreenString("✓"), endpoint)
	if cfg.Gateway.WebhookSecret == "" {
		fmt.Fprintln(cmd.OutOrStdout(), color.YellowString("! WEBHOOK_SECRET is empty; updates are not authenticated"))
	}
	return nil
}

func runWebhookDelete(cmd *cobra.Command, args []string) error {
	client, _, err := telegramClientFromConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.DeleteWebhook(ctx); err != nil {
		return fmt.Errorf("deleteWebhook: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s webhook removed\n", color.GreenString("✓"))
	return nil
}
