// Package purge implements the purge command, removing all inspection
// data while keeping accounts and model versions.
package purge

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conescan/conescan-go/internal/conf"
	"github.com/conescan/conescan-go/internal/datastore"
)

// Command creates the purge command.
func Command(settings *conf.Settings) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete all batches, images and predictions",
		Long:  "Delete every inspection batch with its images, predictions and uploaded files. User accounts and model versions are kept.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force && !confirm() {
				fmt.Println("Purge cancelled")
				return nil
			}
			return runPurge(settings)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Skip the confirmation prompt")
	return cmd
}

func confirm() bool {
	fmt.Print("This deletes ALL inspection data. Type 'yes' to continue: ")
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(answer) == "yes"
}

func runPurge(settings *conf.Settings) error {
	store := datastore.New(settings)
	if err := store.Open(); err != nil {
		return fmt.Errorf("failed to open datastore: %w", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.PurgeInspections(); err != nil {
		return fmt.Errorf("failed to purge inspection data: %w", err)
	}

	removed, err := removeUploadDirs(settings)
	if err != nil {
		return err
	}

	fmt.Printf("Purged all inspection data, removed %d upload directories\n", removed)
	return nil
}

func removeUploadDirs(settings *conf.Settings) (int, error) {
	root := conf.GetBasePath(settings.Upload.Dir)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read upload directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "batch_") {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, entry.Name())); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", entry.Name(), err)
		}
		removed++
	}
	return removed, nil
}
