package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valinor-ai/useradmin/internal/directory"
)

// Source is the read side of the directory used on every scrape.
type Source interface {
	Stats() directory.Stats
	ListRoles() []directory.Role
}

// DirectoryCollector exposes directory counters as gauges computed at
// scrape time.
type DirectoryCollector struct {
	src Source

	users         *prometheus.Desc
	usersActive   *prometheus.Desc
	usersTwoFA    *prometheus.Desc
	renewalDue    *prometheus.Desc
	roles         *prometheus.Desc
	roleUserCount *prometheus.Desc
}

func NewDirectoryCollector(src Source) *DirectoryCollector {
	return &DirectoryCollector{
		src:           src,
		users:         prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "users"), "Number of user accounts.", nil, nil),
		usersActive:   prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "users_active"), "Number of active user accounts.", nil, nil),
		usersTwoFA:    prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "users_two_factor"), "Number of accounts with two-factor authentication enabled.", nil, nil),
		renewalDue:    prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "users_password_renewal_due"), "Number of accounts whose password is due for renewal.", nil, nil),
		roles:         prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "roles"), "Number of roles.", nil, nil),
		roleUserCount: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "role_users"), "Number of users assigned to each role.", []string{"role"}, nil),
	}
}

func (c *DirectoryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.users
	ch <- c.usersActive
	ch <- c.usersTwoFA
	ch <- c.renewalDue
	ch <- c.roles
	ch <- c.roleUserCount
}

func (c *DirectoryCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	ch <- prometheus.MustNewConstMetric(c.users, prometheus.GaugeValue, float64(s.Total))
	ch <- prometheus.MustNewConstMetric(c.usersActive, prometheus.GaugeValue, float64(s.Active))
	ch <- prometheus.MustNewConstMetric(c.usersTwoFA, prometheus.GaugeValue, float64(s.TwoFactorEnabled))
	ch <- prometheus.MustNewConstMetric(c.renewalDue, prometheus.GaugeValue, float64(s.PasswordRenewalDue))

	roles := c.src.ListRoles()
	ch <- prometheus.MustNewConstMetric(c.roles, prometheus.GaugeValue, float64(len(roles)))
	for _, r := range roles {
		ch <- prometheus.MustNewConstMetric(c.roleUserCount, prometheus.GaugeValue, float64(r.UserCount), r.Name)
	}
}
