package api

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talgya/marketsim/internal/economy"
	"github.com/talgya/marketsim/internal/engine"
	"github.com/talgya/marketsim/internal/population"
)

// Metrics exports the latest day as Prometheus gauges on a private registry.
type Metrics struct {
	catalog *economy.Catalog
	reg     *prometheus.Registry

	day          prometheus.Gauge
	groups       prometheus.Gauge
	population   prometheus.Gauge
	starved      prometheus.Gauge
	idle         prometheus.Gauge
	satisfaction *prometheus.GaugeVec
	traded       *prometheus.GaugeVec
	price        *prometheus.GaugeVec
	sellers      *prometheus.GaugeVec
}

func NewMetrics(catalog *economy.Catalog) *Metrics {
	m := &Metrics{
		catalog: catalog,
		reg:     prometheus.NewRegistry(),
		day: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "marketsim", Name: "day",
			Help: "Last completed simulation day.",
		}),
		groups: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "marketsim", Name: "groups",
			Help: "Population groups with members.",
		}),
		population: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "marketsim", Name: "population",
			Help: "Total members across all groups.",
		}),
		starved: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "marketsim", Name: "starved_groups",
			Help: "Groups that met less than half their life needs.",
		}),
		idle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "marketsim", Name: "idle_groups",
			Help: "Groups with a job that produced nothing.",
		}),
		satisfaction: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "marketsim", Name: "satisfaction",
			Help: "Population-weighted need satisfaction by tier.",
		}, []string{"tier"}),
		traded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "marketsim", Name: "traded_units",
			Help: "Units sold on the last day by market and good.",
		}, []string{"market", "good"}),
		price: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "marketsim", Name: "price",
			Help: "Market price at the end of the last day.",
		}, []string{"market", "good"}),
		sellers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "marketsim", Name: "sellers",
			Help: "Sellers registered on the last day.",
		}, []string{"market"}),
	}
	m.reg.MustRegister(m.day, m.groups, m.population, m.starved, m.idle,
		m.satisfaction, m.traded, m.price, m.sellers)
	return m
}

// Observe updates every gauge from a day report.
func (m *Metrics) Observe(r *engine.DayReport) {
	m.day.Set(float64(r.Day))
	m.groups.Set(float64(r.Summary.Groups))
	m.population.Set(float64(r.Summary.Population))
	m.starved.Set(float64(r.Summary.Starved))
	m.idle.Set(float64(r.Summary.Idle))
	for _, t := range population.Tiers() {
		m.satisfaction.WithLabelValues(t.String()).Set(r.Summary.Satisfaction[t].InexactFloat64())
	}

	m.traded.Reset()
	for _, md := range r.Markets {
		market := strconv.FormatUint(uint64(md.ID), 10)
		m.sellers.WithLabelValues(market).Set(float64(md.Sellers))
		for _, g := range md.Sold.Goods() {
			m.traded.WithLabelValues(market, m.catalog.Name(g)).Set(md.Sold.Get(g).InexactFloat64())
		}
		for _, g := range md.Prices.Goods() {
			m.price.WithLabelValues(market, m.catalog.Name(g)).Set(md.Prices.Get(g).InexactFloat64())
		}
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
