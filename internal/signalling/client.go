package signalling

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"

	"radioftp/internal/config"
)

// NewDatabase connects to the Realtime Database that holds signalling
// sessions. Without a credentials file the application default
// credentials are used.
func NewDatabase(ctx context.Context, cfg *config.FirebaseConfig) (*db.Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{
		DatabaseURL: cfg.DatabaseURL,
		ProjectID:   cfg.ProjectID,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app for %s: %w", cfg.ProjectID, err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.DatabaseURL, err)
	}
	return client, nil
}
