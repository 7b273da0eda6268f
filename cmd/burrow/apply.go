package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/cuemby/burrow/pkg/client"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a topology file",
	Long: `Create the apps, channels, users and subscriptions declared in a YAML
file. Resources that already exist are left untouched.

Example:
  apps:
    - name: a1
      channels: [c1, c2]
  users:
    - name: bob
      subscriptions: [a1/c1]

  burrow apply -f topology.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// Topology declares the resources to create
type Topology struct {
	Apps  []AppSpec  `yaml:"apps"`
	Users []UserSpec `yaml:"users"`
}

type AppSpec struct {
	Name     string   `yaml:"name"`
	Channels []string `yaml:"channels"`
}

type UserSpec struct {
	Name string `yaml:"name"`
	// Subscriptions are "app/channel" references.
	Subscriptions []string `yaml:"subscriptions"`
}

func parseTopology(data []byte) (*Topology, error) {
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for _, app := range t.Apps {
		if app.Name == "" {
			return nil, fmt.Errorf("app without a name")
		}
	}
	for _, u := range t.Users {
		if u.Name == "" {
			return nil, fmt.Errorf("user without a name")
		}
		for _, ref := range u.Subscriptions {
			if _, _, err := splitRef(ref); err != nil {
				return nil, fmt.Errorf("user %q: %w", u.Name, err)
			}
		}
	}
	return &t, nil
}

func splitRef(ref string) (app, channel string, err error) {
	app, channel, ok := strings.Cut(ref, "/")
	if !ok || app == "" || channel == "" {
		return "", "", fmt.Errorf("invalid subscription %q, want app/channel", ref)
	}
	return app, channel, nil
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	// Read YAML file
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	t, err := parseTopology(data)
	if err != nil {
		return err
	}
	return applyTopology(cmd.Context(), newClient(cmd), t)
}

// ignoreExists treats an already existing resource as applied
func ignoreExists(err error) error {
	if errdefs.IsAlreadyExists(err) {
		return nil
	}
	return err
}

func applyTopology(ctx context.Context, c *client.Client, t *Topology) error {
	for _, app := range t.Apps {
		if err := ignoreExists(c.CreateApp(ctx, app.Name)); err != nil {
			return fmt.Errorf("failed to create app %q: %w", app.Name, err)
		}
		for _, ch := range app.Channels {
			if err := ignoreExists(c.CreateChannel(ctx, app.Name, ch)); err != nil {
				return fmt.Errorf("failed to create channel %q: %w", app.Name+"/"+ch, err)
			}
		}
		fmt.Printf("✓ App '%s' (%d channels)\n", app.Name, len(app.Channels))
	}

	for _, u := range t.Users {
		if err := ignoreExists(c.CreateUser(ctx, u.Name)); err != nil {
			return fmt.Errorf("failed to create user %q: %w", u.Name, err)
		}
		for _, ref := range u.Subscriptions {
			app, ch, _ := splitRef(ref)
			if err := c.Subscribe(ctx, u.Name, app, ch); err != nil {
				return fmt.Errorf("failed to subscribe %q to %q: %w", u.Name, ref, err)
			}
		}
		fmt.Printf("✓ User '%s' (%d subscriptions)\n", u.Name, len(u.Subscriptions))
	}
	return nil
}
