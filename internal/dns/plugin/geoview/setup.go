package geoview

import (
	"github.com/coredns/caddy"
	"github.com/coredns/coredns/core/dnsserver"
	"github.com/coredns/coredns/plugin"
	"github.com/oschwald/geoip2-golang/v2"
)

func init() { plugin.Register("geoview", setup) }

func setup(c *caddy.Controller) error {
	dbPath, err := parse(c)
	if err != nil {
		return plugin.Error("geoview", err)
	}

	reader, err := geoip2.Open(dbPath)
	if err != nil {
		return plugin.Error("geoview", err)
	}

	gv := &GeoView{DBPath: dbPath, reader: reader}

	c.OnShutdown(gv.Close)

	dnsserver.GetConfig(c).AddPlugin(func(next plugin.Handler) plugin.Handler {
		gv.Next = next
		return gv
	})

	return nil
}

func parse(c *caddy.Controller) (string, error) {
	var dbPath string
	for c.Next() {
		args := c.RemainingArgs()
		if len(args) != 1 {
			return "", plugin.Error("geoview", c.ArgErr())
		}
		dbPath = args[0]
	}
	if dbPath == "" {
		return "", plugin.Error("geoview", c.ArgErr())
	}
	return dbPath, nil
}
