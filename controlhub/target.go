package controlhub

import (
	"net"
	"net/url"
	"strconv"
)

// ExtractTargetID parses the device IP and port the ControlHub should relay
// to out of a ControlHub URI of the form
// ipbusudp-2.0-controlhub://hub-host:hub-port?target=device-host:device-port.
func ExtractTargetID(uri string) (ip uint32, port uint16, err error) {
	u, parseErr := url.Parse(uri)
	if parseErr != nil {
		return 0, 0, &XMLfileMissingRequiredParameters{URI: uri, Reason: parseErr.Error()}
	}

	target := u.Query().Get("target")
	if target == "" {
		return 0, 0, &XMLfileMissingRequiredParameters{URI: uri, Reason: "missing target parameter"}
	}

	host, portStr, splitErr := net.SplitHostPort(target)
	if splitErr != nil {
		return 0, 0, &XMLfileMissingRequiredParameters{URI: uri, Reason: splitErr.Error()}
	}

	ipAddr := net.ParseIP(host)
	if ipAddr == nil {
		resolved, lookupErr := net.ResolveIPAddr("ip4", host)
		if lookupErr != nil {
			return 0, 0, &XMLfileMissingRequiredParameters{URI: uri, Reason: "unresolvable target host " + host}
		}
		ipAddr = resolved.IP
	}
	ip4 := ipAddr.To4()
	if ip4 == nil {
		return 0, 0, &XMLfileMissingRequiredParameters{URI: uri, Reason: "target host is not IPv4"}
	}

	portNum, portErr := strconv.ParseUint(portStr, 10, 16)
	if portErr != nil {
		return 0, 0, &XMLfileMissingRequiredParameters{URI: uri, Reason: portErr.Error()}
	}

	ip = uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3])
	return ip, uint16(portNum), nil
}
