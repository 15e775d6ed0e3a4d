package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"drivewatch/config"
	"drivewatch/models"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// historyRoot is the RTDB node archived history lives under:
// vehicle-history/<vehicle>/<session>/<unix millis>
const historyRoot = "vehicle-history"

type FirebaseService struct {
	client *db.Client
	config *config.Config
	logger *zap.Logger
}

func NewFirebaseService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*FirebaseService, error) {
	conf := &firebase.Config{
		DatabaseURL: cfg.FirebaseDbUrl,
	}

	opt := option.WithCredentialsJSON([]byte(cfg.FirebaseServiceAccountJSON))
	app, err := firebase.NewApp(ctx, conf, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}

	fs := &FirebaseService{
		client: client,
		config: cfg,
		logger: logger,
	}

	if err := fs.testConnection(ctx); err != nil {
		return nil, fmt.Errorf("firebase connection test failed: %w", err)
	}

	return fs, nil
}

// testConnection tests Firebase connection with retry logic
func (fs *FirebaseService) testConnection(ctx context.Context) error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		var data interface{}
		err := fs.client.NewRef(historyRoot).OrderByKey().LimitToFirst(1).Get(ctx, &data)
		if err == nil {
			fs.logger.Info("Firebase connection successful")
			return nil
		}

		fs.logger.Warn("Firebase connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Firebase after %d attempts", maxRetries)
}

// WriteBatch archives history records with a single multi-path update
func (fs *FirebaseService) WriteBatch(ctx context.Context, batch []models.HistoryRecord) error {
	if len(batch) == 0 {
		return nil
	}

	updates := make(map[string]interface{}, len(batch))
	for _, record := range batch {
		updates[historyPath(record)] = record
	}

	if err := fs.client.NewRef(historyRoot).Update(ctx, updates); err != nil {
		return fmt.Errorf("error writing history batch: %w", err)
	}
	return nil
}

// ReadHistory returns the archived records of one vehicle, oldest first.
// An empty sessionID reads every session.
func (fs *FirebaseService) ReadHistory(ctx context.Context, vehicleID, sessionID string) ([]models.HistoryRecord, error) {
	path := historyRoot + "/" + vehicleID
	if sessionID != "" {
		path += "/" + sessionID
	}

	var records []models.HistoryRecord
	if sessionID != "" {
		var session map[string]models.HistoryRecord
		if err := fs.client.NewRef(path).Get(ctx, &session); err != nil {
			return nil, fmt.Errorf("error reading history: %w", err)
		}
		for _, r := range session {
			records = append(records, r)
		}
	} else {
		var sessions map[string]map[string]models.HistoryRecord
		if err := fs.client.NewRef(path).Get(ctx, &sessions); err != nil {
			return nil, fmt.Errorf("error reading history: %w", err)
		}
		for _, session := range sessions {
			for _, r := range session {
				records = append(records, r)
			}
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	return records, nil
}

// Close closes the Firebase connection
func (fs *FirebaseService) Close() error {
	fs.logger.Info("Closing Firebase service")
	// Firebase client doesn't require explicit closing
	return nil
}

func historyPath(record models.HistoryRecord) string {
	return record.VehicleID + "/" + record.SessionID + "/" + strconv.FormatInt(record.Timestamp.UnixMilli(), 10)
}
