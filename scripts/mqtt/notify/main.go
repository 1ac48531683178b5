// Storage event test publisher - writes sample documents into a local input
// directory and announces each file with an S3-style event over MQTT.
//
// Usage:
//
//	go run ./scripts/mqtt/notify [flags]
//
// Examples:
//
//	go run ./scripts/mqtt/notify -dir ./data/input -count 10
//	go run ./scripts/mqtt/notify -topic rowhouse/events -rate 5 -docs 500 -format msgpack
package main

import (
	"bytes"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	broker   = flag.String("broker", "tcp://localhost:1883", "MQTT broker URL")
	clientID = flag.String("client", "rowhouse-test-notify", "MQTT client ID")
	topic    = flag.String("topic", "rowhouse/events", "Topic to publish events to")
	qos      = flag.Int("qos", 1, "QoS level (0, 1, or 2)")
	dir      = flag.String("dir", "./data/input", "Local input directory the server reads")
	prefix   = flag.String("prefix", "incoming", "Key prefix for generated files")
	count    = flag.Int("count", 1, "Number of files to generate (0 = until Ctrl+C)")
	rate     = flag.Int("rate", 1, "Files per second")
	docs     = flag.Int("docs", 100, "Documents per file")
	format   = flag.String("format", "json", "File format: json (newline-delimited) or msgpack")
	username = flag.String("username", "", "MQTT username")
	password = flag.String("password", "", "MQTT password")
)

func main() {
	flag.Parse()

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(*broker)
	opts.SetClientID(*clientID)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)
	if *username != "" {
		opts.SetUsername(*username)
		opts.SetPassword(*password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		fmt.Fprintln(os.Stderr, "Connection timeout")
		os.Exit(1)
	}
	if err := token.Error(); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(1)
	}
	defer client.Disconnect(1000)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / time.Duration(max(*rate, 1)))
	defer ticker.Stop()

	ext := ".ndjson"
	if *format == "msgpack" {
		ext = ".msgpack"
	}

	sent := 0
	for *count == 0 || sent < *count {
		select {
		case <-sigCh:
			fmt.Println("\nReceived shutdown signal")
			fmt.Printf("Published %d events\n", sent)
			return
		case <-ticker.C:
		}

		key := fmt.Sprintf("%s/%s-%04d%s", *prefix, time.Now().UTC().Format("20060102T150405"), sent, ext)
		data, err := sampleFile(*docs, *format)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Encode error: %v\n", err)
			os.Exit(1)
		}
		path := filepath.Join(*dir, filepath.FromSlash(key))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
			os.Exit(1)
		}

		event, err := s3Event(key, int64(len(data)))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Encode error: %v\n", err)
			os.Exit(1)
		}
		pub := client.Publish(*topic, byte(*qos), false, event)
		if !pub.WaitTimeout(5*time.Second) || pub.Error() != nil {
			fmt.Fprintf(os.Stderr, "Failed to publish event for %s: %v\n", key, pub.Error())
			continue
		}
		sent++
		fmt.Printf("%s (%d docs, %d bytes)\n", key, *docs, len(data))
	}
	fmt.Printf("Published %d events\n", sent)
}

// sampleFile produces orders with nested lines and users with a nested
// address, so the default "type" split path yields two tables.
func sampleFile(n int, format string) ([]byte, error) {
	var buf bytes.Buffer
	all := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		var doc map[string]any
		if rand.Intn(3) == 0 {
			doc = map[string]any{
				"type": "user",
				"id":   rand.Intn(100000),
				"name": fmt.Sprintf("user-%d", i),
				"address": map[string]any{
					"city":    []string{"Lisbon", "Austin", "Osaka"}[rand.Intn(3)],
					"country": []string{"PT", "US", "JP"}[rand.Intn(3)],
				},
			}
		} else {
			lines := make([]map[string]any, 1+rand.Intn(4))
			for j := range lines {
				lines[j] = map[string]any{
					"sku":   fmt.Sprintf("SKU-%03d", rand.Intn(500)),
					"qty":   1 + rand.Intn(5),
					"price": fmt.Sprintf("%.2f", 1+rand.Float64()*99),
				}
			}
			doc = map[string]any{
				"type":       "order",
				"id":         rand.Intn(1000000),
				"created_at": time.Now().UTC().Format(time.RFC3339),
				"lines":      lines,
			}
		}
		all = append(all, doc)
	}

	if format == "msgpack" {
		return msgpack.Marshal(all)
	}
	enc := json.NewEncoder(&buf)
	for _, doc := range all {
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func s3Event(key string, size int64) ([]byte, error) {
	return json.Marshal(map[string]any{
		"Records": []map[string]any{{
			"eventSource": "aws:s3",
			"eventName":   "ObjectCreated:Put",
			"s3": map[string]any{
				"bucket": map[string]any{"name": "local"},
				"object": map[string]any{"key": key, "size": size},
			},
		}},
	})
}
