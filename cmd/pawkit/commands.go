package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inkandpaw/pawkit/internal/artifact"
	"github.com/inkandpaw/pawkit/internal/config"
	"github.com/inkandpaw/pawkit/internal/pets"
	"github.com/inkandpaw/pawkit/internal/pipeline"
	"github.com/inkandpaw/pawkit/internal/storage"
	"github.com/inkandpaw/pawkit/internal/upload"
)

func setupLogging(cfg config.Config) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// openStore loads config and opens the pet record store over the SQLite
// backend. The returned close function must be called when done.
func openStore() (*pets.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	setupLogging(cfg)

	backend, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening storage: %w", err)
	}

	store := pets.NewStore(backend, pets.Options{
		Prefix:     cfg.Pets.KeyPrefix,
		QuotaBytes: cfg.Pets.QuotaBytes,
	})
	closer := func() {
		if err := backend.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}
	return store, closer, nil
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <photo>",
	Short: "Upload a pet photo and request stylized portraits",
	Long: `Upload a pet photo, request the selected effects from the
stylization service, publish the resulting artifacts, and save the pet
record locally.

Examples:
  pawkit upload ./rex.jpg --name Rex --effects watercolor,oil
  pawkit upload ./luna.png --name Luna --note "keep the collar" --effects sketch`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		note, _ := cmd.Flags().GetString("note")
		effectsStr, _ := cmd.Flags().GetString("effects")
		customer, _ := cmd.Flags().GetString("customer")
		session, _ := cmd.Flags().GetString("session")
		petID, _ := cmd.Flags().GetString("pet-id")

		if effectsStr == "" {
			return fmt.Errorf("--effects is required")
		}
		effects := strings.Split(effectsStr, ",")
		for i := range effects {
			effects[i] = strings.TrimSpace(effects[i])
		}

		photoPath := args[0]
		data, err := os.ReadFile(photoPath)
		if err != nil {
			return fmt.Errorf("reading photo: %w", err)
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg)

		backend, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer backend.Close()

		store := pets.NewStore(backend, pets.Options{
			Prefix:     cfg.Pets.KeyPrefix,
			QuotaBytes: cfg.Pets.QuotaBytes,
		})

		var fallback *upload.Authority
		if cfg.Upload.FallbackURL != "" {
			fallback = upload.NewAuthority(cfg.Upload.FallbackURL)
		}
		coordinator := upload.NewCoordinator(upload.NewAuthority(cfg.Upload.AuthorityURL), fallback)
		stylizer := artifact.NewClient(cfg.Process.BaseURL)
		processor := pipeline.NewProcessor(coordinator, stylizer, store)

		printStep("Uploading %s...", filepath.Base(photoPath))
		rec, err := processor.Process(context.Background(), pipeline.Photo{
			PetID:      petID,
			CustomerID: customer,
			SessionID:  session,
			Name:       name,
			ArtistNote: note,
			Filename:   filepath.Base(photoPath),
			FileType:   fileTypeFor(photoPath),
			Data:       data,
			Effects:    effects,
		})
		if err != nil {
			return err
		}

		printSuccess("Saved pet %s with %d effect(s)", rec.ID, len(rec.Effects))
		for effect, art := range rec.Effects {
			printStatus(effect, "%s", art.RemoteURL)
		}
		return nil
	},
}

func fileTypeFor(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func init() {
	uploadCmd.Flags().String("name", "", "pet name")
	uploadCmd.Flags().String("note", "", "note for the artist")
	uploadCmd.Flags().String("effects", "", "comma-separated effect names")
	uploadCmd.Flags().String("customer", "", "customer id")
	uploadCmd.Flags().String("session", "", "session id")
	uploadCmd.Flags().String("pet-id", "", "reuse an existing pet id")
}

// --- pets ---

var petsCmd = &cobra.Command{
	Use:   "pets",
	Short: "Manage locally stored pet records",
}

var petsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored pet records",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closer, err := openStore()
		if err != nil {
			return err
		}
		defer closer()

		records, err := store.GetAll()
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No pets stored.")
			return nil
		}

		ids := make([]string, 0, len(records))
		for id := range records {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			return records[ids[i]].CreatedAt.Before(records[ids[j]].CreatedAt)
		})

		for _, id := range ids {
			rec := records[id]
			name := rec.Name
			if name == "" {
				name = "(unnamed)"
			}
			fmt.Printf("%s  %s  %s  %d effect(s)\n",
				colorize(colorCyan, id),
				rec.CreatedAt.Format("2006-01-02 15:04"),
				name,
				len(rec.Effects),
			)
		}
		return nil
	},
}

var petsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single pet record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closer, err := openStore()
		if err != nil {
			return err
		}
		defer closer()

		rec, err := store.Get(args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

var petsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a pet record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closer, err := openStore()
		if err != nil {
			return err
		}
		defer closer()

		if err := store.Delete(args[0]); err != nil {
			return err
		}
		printSuccess("Deleted pet %s", args[0])
		return nil
	},
}

func init() {
	petsCmd.AddCommand(petsListCmd)
	petsCmd.AddCommand(petsShowCmd)
	petsCmd.AddCommand(petsDeleteCmd)
}

// --- cart ---

var cartCmd = &cobra.Command{
	Use:   "cart",
	Short: "Show the cart projection as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closer, err := openStore()
		if err != nil {
			return err
		}
		defer closer()

		items := store.Cart()
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	},
}

// --- storage ---

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Inspect or reset the local record storage",
}

var storageUsageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show quota usage of stored pet records",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closer, err := openStore()
		if err != nil {
			return err
		}
		defer closer()

		usage, err := store.Usage()
		if err != nil {
			return err
		}
		printStatus("Used", "%d bytes", usage.UsedBytes)
		printStatus("Quota", "%.1f%%", usage.PercentOfQuota)
		return nil
	},
}

var storageClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all stored pet records",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL stored pet records. Use --confirm to proceed.")
			return nil
		}

		store, closer, err := openStore()
		if err != nil {
			return err
		}
		defer closer()

		if err := store.Clear(); err != nil {
			return err
		}
		printSuccess("All pet records cleared")
		return nil
	},
}

func init() {
	storageClearCmd.Flags().Bool("confirm", false, "confirm clearing all records")
	storageCmd.AddCommand(storageUsageCmd)
	storageCmd.AddCommand(storageClearCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
