// Package notify delivers fired alerts to the outside world.
//
// Every target implements Sink. Webhook posts Slack, Teams or generic JSON
// payloads with resty; MQTT publishes the decision as JSON to a broker topic;
// Log writes it to the structured log. Multi fans a decision out to several
// sinks and keeps going when one fails.
package notify
