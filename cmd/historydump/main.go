// Command historydump prints the archived telemetry history of a vehicle.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"drivewatch/config"
	"drivewatch/log"
	"drivewatch/models"
	"drivewatch/services"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var (
	vehicleID = pflag.String("vehicle", "", "Vehicle ID (defaults to VEHICLE_ID)")
	sessionID = pflag.String("session", "", "Only dump this session")
	format    = pflag.String("format", "text", "Output format: text or json")
	timeout   = pflag.Duration("timeout", 30*time.Second, "Read timeout")
)

func main() {
	pflag.Parse()

	logger := log.Init(log.Options{Level: "warn"})
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if !cfg.ArchiveEnabled() {
		logger.Fatal("FIREBASE_DB_URL and FIREBASE_SERVICE_ACCOUNT_JSON must be set")
	}
	if *vehicleID == "" {
		*vehicleID = cfg.VehicleID
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	firebaseService, err := services.NewFirebaseService(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Firebase service", zap.Error(err))
	}
	defer firebaseService.Close()

	records, err := firebaseService.ReadHistory(ctx, *vehicleID, *sessionID)
	if err != nil {
		logger.Fatal("Failed to read history", zap.Error(err))
	}

	switch *format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(records); err != nil {
			logger.Fatal("Failed to encode history", zap.Error(err))
		}
	default:
		printText(records)
	}
}

func printText(records []models.HistoryRecord) {
	fmt.Printf("Total entries found: %d\n", len(records))
	for _, r := range records {
		c := models.Classify(&r.Reading)
		fmt.Printf("%s  session=%s  speed=%s (%s)  driver=%s  steering=%s  rollover=%s\n",
			r.Timestamp.Format(time.RFC3339),
			r.SessionID,
			formatSpeed(r.Reading.Speed),
			c.Speed,
			c.Drowsiness,
			c.Steering,
			c.Rollover)
	}
}

func formatSpeed(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.0f km/h", *v)
}
