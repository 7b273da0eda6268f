package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/spf13/cobra"
)

func newClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("server")
	return client.NewClient(addr)
}

func printList(items []string) {
	for _, item := range items {
		fmt.Println(item)
	}
}

// App commands
var appCmd = &cobra.Command{
	Use:   "app",
	Short: "Manage apps",
}

var appCreateCmd = &cobra.Command{
	Use:   "create APP",
	Short: "Create an app",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(cmd).CreateApp(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to create app: %w", err)
		}
		fmt.Printf("✓ App '%s' created\n", args[0])
		return nil
	},
}

var appDeleteCmd = &cobra.Command{
	Use:   "delete APP",
	Short: "Delete an app and all of its channels",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(cmd).DeleteApp(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to delete app: %w", err)
		}
		fmt.Printf("✓ App '%s' deleted\n", args[0])
		return nil
	},
}

var appListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List apps",
	RunE: func(cmd *cobra.Command, args []string) error {
		apps, err := newClient(cmd).ListApps(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list apps: %w", err)
		}
		printList(apps)
		return nil
	},
}

func init() {
	appCmd.AddCommand(appCreateCmd)
	appCmd.AddCommand(appDeleteCmd)
	appCmd.AddCommand(appListCmd)
	rootCmd.AddCommand(appCmd)
}

// Channel commands
var channelCmd = &cobra.Command{
	Use:   "channel",
	Short: "Manage channels",
}

var channelCreateCmd = &cobra.Command{
	Use:   "create APP CHANNEL",
	Short: "Create a channel in an app",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(cmd).CreateChannel(cmd.Context(), args[0], args[1]); err != nil {
			return fmt.Errorf("failed to create channel: %w", err)
		}
		fmt.Printf("✓ Channel '%s/%s' created\n", args[0], args[1])
		return nil
	},
}

var channelDeleteCmd = &cobra.Command{
	Use:   "delete APP CHANNEL",
	Short: "Delete a channel",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(cmd).DeleteChannel(cmd.Context(), args[0], args[1]); err != nil {
			return fmt.Errorf("failed to delete channel: %w", err)
		}
		fmt.Printf("✓ Channel '%s/%s' deleted\n", args[0], args[1])
		return nil
	},
}

var channelListCmd = &cobra.Command{
	Use:     "ls APP",
	Aliases: []string{"list"},
	Short:   "List the channels of an app",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		channels, err := newClient(cmd).ListChannels(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to list channels: %w", err)
		}
		printList(channels)
		return nil
	},
}

func init() {
	channelCmd.AddCommand(channelCreateCmd)
	channelCmd.AddCommand(channelDeleteCmd)
	channelCmd.AddCommand(channelListCmd)
	rootCmd.AddCommand(channelCmd)
}

// Event commands
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Publish and read events",
}

var eventsPublishCmd = &cobra.Command{
	Use:   "publish APP CHANNEL DATA...",
	Short: "Publish one batch with an event per DATA argument",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		events := make([]types.Event, 0, len(args)-2)
		for _, data := range args[2:] {
			events = append(events, types.Event{Data: data})
		}
		if err := newClient(cmd).PublishEvents(cmd.Context(), args[0], args[1], events); err != nil {
			return fmt.Errorf("failed to publish: %w", err)
		}
		fmt.Printf("✓ Published %d event(s) to '%s/%s'\n", len(events), args[0], args[1])
		return nil
	},
}

var eventsGetCmd = &cobra.Command{
	Use:   "get APP CHANNEL",
	Short: "Print the event history of a channel",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := newClient(cmd).GetEvents(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("failed to get events: %w", err)
		}
		if events == nil {
			events = []types.Event{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	},
}

func init() {
	eventsCmd.AddCommand(eventsPublishCmd)
	eventsCmd.AddCommand(eventsGetCmd)
	rootCmd.AddCommand(eventsCmd)
}

// User commands
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(cmd).CreateUser(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		fmt.Printf("✓ User '%s' created\n", args[0])
		return nil
	},
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a user and cancel its subscriptions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(cmd).DeleteUser(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		fmt.Printf("✓ User '%s' deleted\n", args[0])
		return nil
	},
}

var userSubscriptionsCmd = &cobra.Command{
	Use:   "subscriptions NAME",
	Short: "List the channels a user is subscribed to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		refs, err := newClient(cmd).Subscriptions(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to list subscriptions: %w", err)
		}
		for _, ref := range refs {
			fmt.Println(ref)
		}
		return nil
	},
}

func init() {
	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userDeleteCmd)
	userCmd.AddCommand(userSubscriptionsCmd)
	rootCmd.AddCommand(userCmd)
}

// Subscription commands
var subscribeCmd = &cobra.Command{
	Use:   "subscribe NAME APP CHANNEL",
	Short: "Subscribe a user to a channel",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(cmd).Subscribe(cmd.Context(), args[0], args[1], args[2]); err != nil {
			return fmt.Errorf("failed to subscribe: %w", err)
		}
		fmt.Printf("✓ '%s' subscribed to '%s/%s'\n", args[0], args[1], args[2])
		return nil
	},
}

var unsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe NAME APP CHANNEL",
	Short: "Remove a user's subscription to a channel",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient(cmd).Unsubscribe(cmd.Context(), args[0], args[1], args[2]); err != nil {
			return fmt.Errorf("failed to unsubscribe: %w", err)
		}
		fmt.Printf("✓ '%s' unsubscribed from '%s/%s'\n", args[0], args[1], args[2])
		return nil
	},
}

var streamCmd = &cobra.Command{
	Use:   "stream NAME",
	Short: "Print live deliveries for a user until interrupted",
	Long: `Attach to a user's event stream and print each delivered batch as a
JSON line. Depending on server configuration the user may be deleted when
the stream closes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		enc := json.NewEncoder(os.Stdout)
		return newClient(cmd).Stream(ctx, args[0], func(b types.Batch) error {
			return enc.Encode(b)
		})
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server readiness",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := newClient(cmd).Ready(ctx); err != nil {
			return fmt.Errorf("server not ready: %w", err)
		}
		fmt.Println("✓ HTTP API ready")

		grpcAddr, _ := cmd.Flags().GetString("grpc")
		if grpcAddr == "" {
			return nil
		}
		status, err := client.GRPCHealth(ctx, grpcAddr)
		if err != nil {
			return fmt.Errorf("gRPC health check failed: %w", err)
		}
		fmt.Printf("✓ gRPC health: %s\n", status)
		return nil
	},
}

func init() {
	healthCmd.Flags().String("grpc", "", "Also check the gRPC health service at this address")

	rootCmd.AddCommand(subscribeCmd)
	rootCmd.AddCommand(unsubscribeCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(healthCmd)
}

