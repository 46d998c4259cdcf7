package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	playersOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "realm",
		Name:      "players_online",
		Help:      "Characters currently online.",
	})
	gmsOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "realm",
		Name:      "gms_online",
		Help:      "Online characters whose account has a GM level above zero.",
	})
	openTickets = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "realm",
		Name:      "open_tickets",
		Help:      "Open GM tickets.",
	})
	factionOnline = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "realm",
		Name:      "faction_online",
		Help:      "Online characters per faction.",
	}, []string{"faction"})
)

// SetRealm publishes the latest realm population figures.
func SetRealm(players, gms, tickets, alliance, horde int) {
	if !regOK.Load() {
		return
	}
	playersOnline.Set(float64(players))
	gmsOnline.Set(float64(gms))
	openTickets.Set(float64(tickets))
	factionOnline.WithLabelValues("alliance").Set(float64(alliance))
	factionOnline.WithLabelValues("horde").Set(float64(horde))
}
