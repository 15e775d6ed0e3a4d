// Command telemetrysim publishes synthetic vehicle telemetry over SSE and,
// optionally, MQTT so the dashboard can run without a car.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/mux"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var (
	rps        = pflag.Float64("rps", 1, "Messages per second")
	vehicleID  = pflag.String("vehicle", "vehicle-001", "Vehicle ID stamped on payloads")
	emptyProb  = pflag.Float64("empty", 0.05, "Probability of an all-null payload (0.0-1.0)")
	dangerProb = pflag.Float64("danger", 0.1, "Probability of a dangerous reading (0.0-1.0)")
	seed       = pflag.Int64("seed", time.Now().UnixNano(), "Random seed")
	listenAddr = pflag.String("listen", ":8080", "SSE listen address, empty to disable")
	ssePath    = pflag.String("path", "/events", "SSE endpoint path")
	mqttBroker = pflag.String("broker", "", "MQTT broker address (host:port), empty to disable")
	mqttUser   = pflag.String("user", "", "MQTT username")
	mqttPass   = pflag.String("pass", "", "MQTT password")
	mqttTopic  = pflag.String("topic", "vehicle/telemetry", "MQTT topic to publish to")
)

func main() {
	pflag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if *rps <= 0 {
		logger.Fatal("rps must be positive", zap.Float64("rps", *rps))
	}
	if *listenAddr == "" && *mqttBroker == "" {
		logger.Fatal("nothing to publish to: set --listen or --broker")
	}

	logger.Info("Telemetry simulator started",
		zap.String("vehicle_id", *vehicleID),
		zap.Float64("rps", *rps),
		zap.Float64("empty_probability", *emptyProb),
		zap.Float64("danger_probability", *dangerProb),
		zap.String("listen", *listenAddr),
		zap.String("mqtt_broker", *mqttBroker),
	)
	logger.Info("Press Ctrl+C to stop gracefully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broadcaster := NewBroadcaster(logger)
	var server *http.Server
	if *listenAddr != "" {
		r := mux.NewRouter()
		r.Handle(*ssePath, broadcaster).Methods(http.MethodGet)
		server = &http.Server{Addr: *listenAddr, Handler: r}

		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("SSE server failed", zap.Error(err))
				stop()
			}
		}()
		logger.Info("Serving SSE telemetry", zap.String("url", fmt.Sprintf("http://localhost%s%s", *listenAddr, *ssePath)))
	}

	var mqttClient mqtt.Client
	if *mqttBroker != "" {
		opts := mqtt.NewClientOptions()
		opts.AddBroker(fmt.Sprintf("tcp://%s", *mqttBroker))
		opts.SetClientID(fmt.Sprintf("%s-simulator", *vehicleID))
		if *mqttUser != "" {
			opts.SetUsername(*mqttUser)
			opts.SetPassword(*mqttPass)
		}
		opts.SetKeepAlive(60 * time.Second)
		opts.SetAutoReconnect(true)
		opts.OnConnectionLost = func(client mqtt.Client, err error) {
			logger.Error("MQTT connection lost", zap.Error(err))
		}

		mqttClient = mqtt.NewClient(opts)
		if token := mqttClient.Connect(); token.Wait() && token.Error() != nil {
			logger.Fatal("Failed to connect to MQTT broker", zap.Error(token.Error()))
		}
		logger.Info("Connected to MQTT broker", zap.String("broker", *mqttBroker))
	}

	gen := NewGenerator(*vehicleID, *emptyProb, *dangerProb, *seed)

	ticker := time.NewTicker(time.Duration(float64(time.Second) / *rps))
	defer ticker.Stop()

	messageCount := 0
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down",
				zap.Int("total_messages", messageCount),
				zap.Duration("uptime", time.Since(startTime)))

			if mqttClient != nil {
				mqttClient.Disconnect(250)
			}
			if server != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = server.Shutdown(shutdownCtx)
				cancel()
			}
			return

		case <-ticker.C:
			data, err := json.Marshal(gen.Next())
			if err != nil {
				logger.Error("Failed to marshal payload", zap.Error(err))
				continue
			}

			clients := broadcaster.Publish(data)

			if mqttClient != nil {
				token := mqttClient.Publish(*mqttTopic, 0, false, data)
				if token.Wait() && token.Error() != nil {
					logger.Error("Failed to publish MQTT message", zap.Error(token.Error()))
				}
			}

			messageCount++
			logger.Debug("Published telemetry",
				zap.Int("sse_clients", clients),
				zap.ByteString("payload", data))

			if messageCount%100 == 0 {
				logger.Info("Telemetry published",
					zap.Int("count", messageCount),
					zap.Float64("rate", float64(messageCount)/time.Since(startTime).Seconds()))
			}
		}
	}
}
