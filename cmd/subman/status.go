package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/symbiote-h2020/SubscriptionManager/pkg/model"
)

var (
	statusTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#8BE9FD")).
				MarginBottom(1)

	statusHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#50FA7B")).
				Padding(0, 1)

	statusRowStyle = lipgloss.NewStyle().
			Padding(0, 1)
)

func statusCmd() *cobra.Command {
	var nodeURL string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the subscriptions held by a running node",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Get(strings.TrimRight(nodeURL, "/") + "/subscriptionManager/subscriptions")
			if err != nil {
				return fmt.Errorf("failed to reach node: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("node answered %s", resp.Status)
			}

			var subs []*model.Subscription
			if err := json.NewDecoder(resp.Body).Decode(&subs); err != nil {
				return fmt.Errorf("failed to decode subscriptions: %w", err)
			}

			fmt.Println(statusTitleStyle.Render("Subscriptions"))
			t := table.New().
				Border(lipgloss.RoundedBorder()).
				StyleFunc(func(row, col int) lipgloss.Style {
					if row == table.HeaderRow {
						return statusHeaderStyle
					}
					return statusRowStyle
				}).
				Headers("PLATFORM", "TYPES", "LOCATIONS", "PROPERTIES", "CAPABILITIES")
			for _, sub := range subs {
				t.Row(
					sub.PlatformID,
					renderTypes(sub),
					renderList(sub.Locations),
					renderList(sub.ObservedProperties),
					renderList(sub.Capabilities),
				)
			}
			fmt.Println(t.Render())
			return nil
		},
	}
	cmd.Flags().StringVar(&nodeURL, "url", "http://localhost:8128", "base URL of the node")
	return cmd
}

func renderTypes(sub *model.Subscription) string {
	kinds := []string{
		model.ResourceKindService,
		model.ResourceKindDevice,
		model.ResourceKindSensor,
		model.ResourceKindActuator,
	}
	var accepted []string
	for _, kind := range kinds {
		if sub.Accepts(kind) {
			accepted = append(accepted, kind)
		}
	}
	if len(accepted) == len(kinds) {
		return "all"
	}
	return renderList(accepted)
}

func renderList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
