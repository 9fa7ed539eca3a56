package securitylog

import (
	"sort"
	"time"

	"throttleguard/internal/securitylog/models"
)

// aggregate groups events by client IP and event type. Offenders are ordered
// by event count, then IP so equal counts have a stable order.
func aggregate(events []models.Event, since, now time.Time, topN int) models.Report {
	report := models.Report{
		Since:        since,
		GeneratedAt:  now,
		TotalEvents:  len(events),
		EventTypes:   make(map[models.EventType]int),
		TopOffenders: []models.Offender{},
	}

	byClient := make(map[string]*models.Offender)
	for _, ev := range events {
		report.EventTypes[ev.EventType]++

		ip := ev.ClientInfo.IP
		o, ok := byClient[ip]
		if !ok {
			o = &models.Offender{
				IP:         ip,
				EventTypes: make(map[models.EventType]int),
				FirstSeen:  ev.Timestamp,
				LastSeen:   ev.Timestamp,
			}
			byClient[ip] = o
		}
		o.EventCount++
		o.EventTypes[ev.EventType]++
		if models.SeverityRank(ev.Severity) > models.SeverityRank(o.WorstSeverity) {
			o.WorstSeverity = ev.Severity
		}
		if ev.Timestamp.Before(o.FirstSeen) {
			o.FirstSeen = ev.Timestamp
		}
		if ev.Timestamp.After(o.LastSeen) {
			o.LastSeen = ev.Timestamp
		}
	}
	report.UniqueClients = len(byClient)

	offenders := make([]models.Offender, 0, len(byClient))
	for _, o := range byClient {
		offenders = append(offenders, *o)
	}
	sort.Slice(offenders, func(i, j int) bool {
		if offenders[i].EventCount != offenders[j].EventCount {
			return offenders[i].EventCount > offenders[j].EventCount
		}
		return offenders[i].IP < offenders[j].IP
	})
	if len(offenders) > topN {
		offenders = offenders[:topN]
	}
	report.TopOffenders = offenders
	return report
}
