package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/porthorian/openguard/pkg/storage"
)

type seedFile struct {
	Roles    []seedRole    `yaml:"roles"`
	Subjects []seedSubject `yaml:"subjects"`
}

type seedRole struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type seedSubject struct {
	// ID is generated when empty.
	ID          string   `yaml:"id"`
	DisplayName string   `yaml:"display_name"`
	Email       string   `yaml:"email"`
	Status      string   `yaml:"status"`
	Roles       []string `yaml:"roles"`
}

type invalidator interface {
	Invalidate(ctx context.Context, subjectID string) error
}

func init() {
	rootCmd.AddCommand(newSeedCommand())
}

func newSeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Load roles, permissions and subjects into the configured storage backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := readSeedFile(args[0])
			if err != nil {
				return err
			}

			client, _, logger, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			store, ok := client.AdminStore()
			if !ok {
				return errors.New("configured storage backend does not accept writes")
			}

			ids, err := applySeed(cmd.Context(), store, client, seed)
			if err != nil {
				return err
			}
			for _, id := range ids {
				logger.V(1).Info("seeded subject", "subject", id)
			}
			cmd.Printf("Seeded %d role(s) and %d subject(s)\n", len(seed.Roles), len(ids))
			return nil
		},
	}
}

func readSeedFile(path string) (seedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return seedFile{}, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return decodeSeed(f)
}

func decodeSeed(r io.Reader) (seedFile, error) {
	var seed seedFile
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&seed); err != nil && !errors.Is(err, io.EOF) {
		return seedFile{}, fmt.Errorf("decode seed file: %w", err)
	}
	return seed, nil
}

// applySeed writes roles before subjects so assignments can reference them,
// then drops any cached identity for the touched subjects. It returns the
// subject ids written, including generated ones.
func applySeed(ctx context.Context, store storage.Store, cache invalidator, seed seedFile) ([]string, error) {
	for _, role := range seed.Roles {
		if strings.TrimSpace(role.Name) == "" {
			return nil, errors.New("seed: role name is required")
		}
		if err := store.PutRole(ctx, storage.RoleRecord{
			Name:        role.Name,
			Description: role.Description,
			Permissions: role.Permissions,
		}); err != nil {
			return nil, fmt.Errorf("seed role %q: %w", role.Name, err)
		}
	}

	ids := make([]string, 0, len(seed.Subjects))
	for _, subject := range seed.Subjects {
		id := strings.TrimSpace(subject.ID)
		if id == "" {
			id = uuid.NewString()
		}

		status := storage.SubjectStatus(subject.Status)
		switch status {
		case "", storage.SubjectStatusActive, storage.SubjectStatusDisabled:
		default:
			return nil, fmt.Errorf("seed subject %q: unknown status %q", id, subject.Status)
		}

		if err := store.PutSubject(ctx, storage.SubjectRecord{
			ID:          id,
			DisplayName: subject.DisplayName,
			Email:       subject.Email,
			Status:      status,
		}); err != nil {
			return nil, fmt.Errorf("seed subject %q: %w", id, err)
		}
		if err := store.AssignRoles(ctx, id, subject.Roles); err != nil {
			return nil, fmt.Errorf("assign roles to %q: %w", id, err)
		}
		if cache != nil {
			if err := cache.Invalidate(ctx, id); err != nil {
				return nil, fmt.Errorf("invalidate %q: %w", id, err)
			}
		}
		ids = append(ids, id)
	}
	return ids, nil
}
