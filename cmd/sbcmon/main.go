package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/robotalks/sbclink/pkg/bridge/mqtt"
)

var (
	mqttURL = "mqtt://localhost:1883/sbc/"
	filter  = "#"
)

func init() {
	if val := os.Getenv("SBC_MQTT_URL"); val != "" {
		mqttURL = val
	}
	flag.StringVar(&mqttURL, "mqtt", mqttURL, "MQTT broker URL.")
	flag.StringVar(&filter, "topic", filter, "Topic filter, e.g. +/event.")
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds)

	q, err := mqtt.NewQueueFromURL(mqttURL)
	if err != nil {
		log.Fatalln(err)
	}
	q.Sub(filter, mqtt.Handler(func(topic string, payload []byte) {
		if strings.HasSuffix(topic, "/"+mqtt.TopicCode) {
			return
		}
		if len(payload) == 0 {
			log.Printf("%s: <cleared>", topic)
			return
		}
		s, err := mqtt.Unmarshal(payload)
		if err != nil {
			log.Printf("%s: bad payload: %v", topic, err)
			return
		}
		fields := s.AsMap()
		if ts, err := mqtt.TimeOf(s); err == nil {
			delete(fields, "time")
			fields["latency"] = time.Since(ts).String()
		}
		out, _ := json.Marshal(fields)
		log.Printf("%s: %s", topic, out)
	}))
	if token := q.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalln(token.Error())
	}
	<-(chan struct{})(nil)
}
