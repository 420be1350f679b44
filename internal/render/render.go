// Package render projects a topology and its address assignments into the
// textual lab artifacts: the services descriptor, per-router FRR configs,
// and the topology metadata document consumed by the display service.
//
// Rendering is referentially transparent: identical inputs always produce
// byte-identical output, so regenerating an unchanged lab never dirties
// the artifacts.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/netip"
	"path"
	"text/template"

	"labnet/internal/domain"
)

const (
	// ComposeFile is the services descriptor artifact name
	ComposeFile = "docker-compose.yml"
	// MetadataFile is the topology metadata artifact name
	MetadataFile = "topology-metadata.json"

	frrImage = "frrouting/frr:v8.4.1"

	// mgmtNetwork is the shared out-of-band management bridge attached
	// to every router alongside its point-to-point links
	mgmtNetwork = "lab_mgmt"
)

type peerContext struct {
	Name    string
	Address string
	ASN     uint32
}

type interfaceContext struct {
	Network string
	Address string
}

type routerContext struct {
	Name       string
	ASN        uint32
	Role       string
	RouterID   string
	Image      string
	Interfaces []interfaceContext
	Prefixes   []string
	Peers      []peerContext
}

type linkContext struct {
	Name   string
	Subnet string
}

var composeTmpl = template.Must(template.New("compose").Parse(`services:
{{- range .Routers}}
  {{.Name}}:
    image: {{.Image}}
    container_name: {{.Name}}
    privileged: true
    volumes:
      - ./frr/{{.Name}}:/etc/frr
    networks:
{{- range .Interfaces}}
      {{.Network}}:
        ipv4_address: {{.Address}}
{{- end}}
{{- end}}

networks:
{{- range .Links}}
  {{.Name}}:
    driver: bridge
    ipam:
      config:
        - subnet: {{.Subnet}}
{{- end}}
`))

var frrTmpl = template.Must(template.New("frr").Parse(`frr version 8.4.1
frr defaults traditional
hostname {{.Name}}
service integrated-vtysh-config
!
router bgp {{.ASN}}
 bgp router-id {{.RouterID}}
{{- range .Peers}}
 neighbor {{.Address}} remote-as {{.ASN}}
{{- end}}
 !
 address-family ipv4 unicast
{{- range .Prefixes}}
  network {{.}}
{{- end}}
 exit-address-family
!
line vty
`))

const daemonsFile = "bgpd=yes\nzebra=yes\n"

type metadataRouter struct {
	Name     string            `json:"name"`
	ASN      uint32            `json:"asn"`
	Role     string            `json:"role"`
	RouterID string            `json:"router_id"`
	MgmtIP   string            `json:"mgmt_ip,omitempty"`
	Loopback string            `json:"loopback,omitempty"`
	Links    map[string]string `json:"links"`
	Prefixes []string          `json:"prefixes"`
	Peers    []metadataPeer    `json:"peers"`
}

type metadataPeer struct {
	Neighbor  string `json:"neighbor"`
	Link      string `json:"link"`
	Address   string `json:"address"`
	RemoteASN uint32 `json:"remote_asn"`
}

type metadataLink struct {
	Name   string `json:"name"`
	Subnet string `json:"subnet"`
}

type metadataDoc struct {
	Metadata map[string]any   `json:"metadata"`
	Routers  []metadataRouter `json:"routers"`
	Links    []metadataLink   `json:"links"`
}

// managementSubnet derives the management bridge subnet from the first
// router carrying a parseable IPv4 management address. The lab keeps all
// management addresses in a single /24.
func managementSubnet(topo *domain.Topology) (netip.Prefix, bool) {
	for _, r := range topo.Routers {
		addr, err := netip.ParseAddr(r.MgmtIP)
		if err != nil || !addr.Is4() {
			continue
		}
		return netip.PrefixFrom(addr, 24).Masked(), true
	}
	return netip.Prefix{}, false
}

func buildContexts(topo *domain.Topology, plan domain.Assignments) ([]routerContext, []linkContext, error) {
	mgmt, hasMgmt := managementSubnet(topo)

	routers := make([]routerContext, 0, len(topo.Routers))
	for _, r := range topo.Routers {
		rc := routerContext{
			Name:     r.Name,
			ASN:      r.ASN,
			Role:     string(r.Role),
			RouterID: r.RouterID,
			Image:    frrImage,
			Prefixes: r.Networks,
		}
		// the management attachment comes first, mirroring the interface
		// order on the running containers
		if hasMgmt {
			if addr, err := netip.ParseAddr(r.MgmtIP); err == nil && addr.Is4() {
				rc.Interfaces = append(rc.Interfaces, interfaceContext{Network: mgmtNetwork, Address: r.MgmtIP})
			}
		}
		// one interface per attached link, in the topology's link order
		for _, link := range topo.Links {
			if addr, ok := plan.Get(r.Name, link.Name); ok {
				rc.Interfaces = append(rc.Interfaces, interfaceContext{Network: link.Name, Address: addr.String()})
			}
		}
		for _, p := range r.Peers {
			addr, ok := plan.Get(p.Neighbor, p.Link)
			if !ok {
				return nil, nil, fmt.Errorf("no address for peer %s of %s on link %s", p.Neighbor, r.Name, p.Link)
			}
			neighbor := topo.Router(p.Neighbor)
			if neighbor == nil {
				return nil, nil, fmt.Errorf("router %s peers with undefined %s", r.Name, p.Neighbor)
			}
			rc.Peers = append(rc.Peers, peerContext{Name: p.Neighbor, Address: addr.String(), ASN: neighbor.ASN})
		}
		routers = append(routers, rc)
	}

	links := make([]linkContext, 0, len(topo.Links)+1)
	for _, l := range topo.Links {
		links = append(links, linkContext{Name: l.Name, Subnet: l.Subnet.String()})
	}
	// declared after the point-to-point links so the link subnets keep
	// their leading positions in the descriptor
	if hasMgmt {
		links = append(links, linkContext{Name: mgmtNetwork, Subnet: mgmt.String()})
	}
	return routers, links, nil
}

func metadata(topo *domain.Topology, routers []routerContext) ([]byte, error) {
	doc := metadataDoc{
		Metadata: topo.Metadata,
		Routers:  make([]metadataRouter, 0, len(routers)),
		Links:    make([]metadataLink, 0, len(topo.Links)),
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}

	for i, rc := range routers {
		r := topo.Routers[i]
		mr := metadataRouter{
			Name:     rc.Name,
			ASN:      rc.ASN,
			Role:     rc.Role,
			RouterID: rc.RouterID,
			MgmtIP:   r.MgmtIP,
			Loopback: r.Loopback,
			Links:    make(map[string]string, len(rc.Interfaces)),
			Prefixes: append([]string{}, rc.Prefixes...),
			Peers:    make([]metadataPeer, 0, len(r.Peers)),
		}
		for _, iface := range rc.Interfaces {
			mr.Links[iface.Network] = iface.Address
		}
		for j, p := range r.Peers {
			mr.Peers = append(mr.Peers, metadataPeer{
				Neighbor:  p.Neighbor,
				Link:      p.Link,
				Address:   rc.Peers[j].Address,
				RemoteASN: rc.Peers[j].ASN,
			})
		}
		doc.Routers = append(doc.Routers, mr)
	}
	for _, l := range topo.Links {
		doc.Links = append(doc.Links, metadataLink{Name: l.Name, Subnet: l.Subnet.String()})
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return append(out, '\n'), nil
}

// Files renders every generation-path artifact, keyed by path relative to
// the output directory
func Files(topo *domain.Topology, plan domain.Assignments) (map[string][]byte, error) {
	routers, links, err := buildContexts(topo, plan)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]byte)

	var compose bytes.Buffer
	err = composeTmpl.Execute(&compose, struct {
		Routers []routerContext
		Links   []linkContext
	}{routers, links})
	if err != nil {
		return nil, fmt.Errorf("render compose: %w", err)
	}
	out[ComposeFile] = compose.Bytes()

	for _, rc := range routers {
		var conf bytes.Buffer
		if err := frrTmpl.Execute(&conf, rc); err != nil {
			return nil, fmt.Errorf("render frr config for %s: %w", rc.Name, err)
		}
		out[path.Join("frr", rc.Name, "frr.conf")] = conf.Bytes()
		out[path.Join("frr", rc.Name, "daemons")] = []byte(daemonsFile)
	}

	meta, err := metadata(topo, routers)
	if err != nil {
		return nil, err
	}
	out[MetadataFile] = meta

	return out, nil
}
