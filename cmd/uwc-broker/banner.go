package main

import (
	"net"
	"sort"
	"strconv"

	"github.com/pterm/pterm"
)

func printBanner(listen net.Addr, path string) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		addrs = nil
	}
	urls := signalingURLs(listen, path, addrs)

	pterm.DefaultSection.Println("uwc-broker")
	if len(urls) == 0 {
		pterm.Warning.Println("no LAN address found; clients on this machine can use " + localURL(listen, path))
		return
	}
	items := make([]pterm.BulletListItem, 0, len(urls))
	for _, u := range urls {
		items = append(items, pterm.BulletListItem{Level: 0, Text: u})
	}
	pterm.Info.Println("clients can connect to:")
	_ = pterm.DefaultBulletList.WithItems(items).Render()
}

// signalingURLs lists ws:// URLs under which LAN clients reach the signaling
// endpoint. A listener bound to one address yields only that address;
// wildcard listeners yield every non-loopback IPv4 interface address.
func signalingURLs(listen net.Addr, path string, ifaceAddrs []net.Addr) []string {
	tcp, ok := listen.(*net.TCPAddr)
	if !ok {
		return nil
	}
	if path == "" {
		path = "/"
	}
	port := strconv.Itoa(tcp.Port)

	if tcp.IP != nil && !tcp.IP.IsUnspecified() {
		if tcp.IP.IsLoopback() {
			return nil
		}
		return []string{"ws://" + net.JoinHostPort(tcp.IP.String(), port) + path}
	}

	seen := map[string]bool{}
	var out []string
	for _, a := range ifaceAddrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		ip4 := ip.To4()
		if ip4 == nil || ip4.IsLoopback() || ip4.IsLinkLocalUnicast() {
			continue
		}
		u := "ws://" + net.JoinHostPort(ip4.String(), port) + path
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out
}

func localURL(listen net.Addr, path string) string {
	port := "0"
	if tcp, ok := listen.(*net.TCPAddr); ok {
		port = strconv.Itoa(tcp.Port)
	}
	if path == "" {
		path = "/"
	}
	return "ws://" + net.JoinHostPort("127.0.0.1", port) + path
}
