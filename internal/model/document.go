package model

// Document is the root of the generated sing-box configuration.
type Document struct {
	Log          *Log          `json:"log,omitempty"`
	DNS          *DNS          `json:"dns,omitempty"`
	NTP          *NTP          `json:"ntp,omitempty"`
	Inbounds     []Inbound     `json:"inbounds,omitempty"`
	Outbounds    []Outbound    `json:"outbounds"`
	Route        *Route        `json:"route,omitempty"`
	Experimental *Experimental `json:"experimental,omitempty"`
}

type Log struct {
	Disabled  bool   `json:"disabled" yaml:"disabled"`
	Level     string `json:"level,omitempty" yaml:"level,omitempty"`
	Output    string `json:"output,omitempty" yaml:"output,omitempty"`
	Timestamp bool   `json:"timestamp" yaml:"timestamp"`
}

type NTP struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Server     string `json:"server" yaml:"server"`
	ServerPort int    `json:"server_port,omitempty" yaml:"server_port,omitempty"`
	Interval   string `json:"interval,omitempty" yaml:"interval,omitempty"`
	Detour     string `json:"detour,omitempty" yaml:"detour,omitempty"`
}

type DNSServer struct {
	Tag             string `json:"tag" yaml:"tag"`
	Address         string `json:"address" yaml:"address"`
	AddressResolver string `json:"address_resolver,omitempty" yaml:"address_resolver,omitempty"`
	Strategy        string `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Detour          string `json:"detour,omitempty" yaml:"detour,omitempty"`
}

type FakeIP struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Inet4Range string `json:"inet4_range,omitempty" yaml:"inet4_range,omitempty"`
	Inet6Range string `json:"inet6_range,omitempty" yaml:"inet6_range,omitempty"`
}

type DNS struct {
	Servers          []DNSServer `json:"servers"`
	Rules            []Rule      `json:"rules"`
	Final            string      `json:"final,omitempty"`
	Strategy         string      `json:"strategy,omitempty"`
	DisableCache     bool        `json:"disable_cache"`
	DisableExpire    bool        `json:"disable_expire"`
	IndependentCache bool        `json:"independent_cache,omitempty"`
	CacheCapacity    int         `json:"cache_capacity,omitempty"`
	ReverseMapping   bool        `json:"reverse_mapping"`
	FakeIP           *FakeIP     `json:"fakeip,omitempty"`
}

type HTTPProxy struct {
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	Server       string   `json:"server" yaml:"server"`
	ServerPort   int      `json:"server_port" yaml:"server_port"`
	BypassDomain []string `json:"bypass_domain,omitempty" yaml:"bypass_domain,omitempty"`
}

type Platform struct {
	HTTPProxy *HTTPProxy `json:"http_proxy,omitempty" yaml:"http_proxy,omitempty"`
}

// Inbound covers the listener kinds the generator emits (mixed, tproxy, tun).
type Inbound struct {
	Type       string `json:"type" yaml:"type"`
	Tag        string `json:"tag" yaml:"tag"`
	Listen     string `json:"listen,omitempty" yaml:"listen,omitempty"`
	ListenPort int    `json:"listen_port,omitempty" yaml:"listen_port,omitempty"`

	InterfaceName          string    `json:"interface_name,omitempty" yaml:"interface_name,omitempty"`
	Address                []string  `json:"address,omitempty" yaml:"address,omitempty"`
	Stack                  string    `json:"stack,omitempty" yaml:"stack,omitempty"`
	AutoRoute              bool      `json:"auto_route,omitempty" yaml:"auto_route,omitempty"`
	StrictRoute            bool      `json:"strict_route,omitempty" yaml:"strict_route,omitempty"`
	RouteExcludeAddressSet []string  `json:"route_exclude_address_set,omitempty" yaml:"route_exclude_address_set,omitempty"`
	Platform               *Platform `json:"platform,omitempty" yaml:"platform,omitempty"`
}

type Route struct {
	Rules               []Rule       `json:"rules"`
	RuleSet             []RuleSetRef `json:"rule_set"`
	Final               string       `json:"final"`
	AutoDetectInterface bool         `json:"auto_detect_interface"`
	DefaultMark         int          `json:"default_mark,omitempty"`
}

type CacheFile struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	Path        string `json:"path,omitempty" yaml:"path,omitempty"`
	StoreFakeIP bool   `json:"store_fakeip" yaml:"store_fakeip"`
	StoreRDRC   bool   `json:"store_rdrc" yaml:"store_rdrc"`
}

type ClashAPI struct {
	ExternalController       string `json:"external_controller,omitempty" yaml:"external_controller,omitempty"`
	Secret                   string `json:"secret,omitempty" yaml:"secret,omitempty"`
	DefaultMode              string `json:"default_mode,omitempty" yaml:"default_mode,omitempty"`
	ExternalUI               string `json:"external_ui,omitempty" yaml:"external_ui,omitempty"`
	ExternalUIDownloadURL    string `json:"external_ui_download_url,omitempty" yaml:"external_ui_download_url,omitempty"`
	ExternalUIDownloadDetour string `json:"external_ui_download_detour,omitempty" yaml:"external_ui_download_detour,omitempty"`
}

type Experimental struct {
	CacheFile *CacheFile `json:"cache_file,omitempty" yaml:"cache_file,omitempty"`
	ClashAPI  *ClashAPI  `json:"clash_api,omitempty" yaml:"clash_api,omitempty"`
}
