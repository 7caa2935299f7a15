// Package bots classifies user agents as automated or human traffic.
//
// Classification is a static, ordered rule table of case-insensitive
// substrings. Adding a signature is a data change to rules below.
package bots

import "strings"

// Rule is a named group of lowercase user agent fragments.
type Rule struct {
	Name   string
	Tokens []string
}

var rules = []Rule{
	{Name: "generic", Tokens: []string{
		"bot", "crawler", "crawling", "spider", "slurp", "scraper", "fetcher", "archiver", "indexer",
	}},
	{Name: "search", Tokens: []string{
		"bingpreview", "yandex", "baiduspider", "sogou", "seznam", "exabot",
		"mojeek", "qwant", "google-inspectiontool", "google-extended", "googleother",
		"storebot-google", "feedfetcher",
	}},
	{Name: "social", Tokens: []string{
		"facebookexternalhit", "facebookcatalog", "meta-externalagent", "whatsapp",
		"skypeuripreview", "embedly", "vkshare", "quora link preview", "flipboardproxy",
		"flipboardrss", "mastodon", "bluesky",
	}},
	{Name: "seo", Tokens: []string{
		"ahrefs", "semrush", "screaming frog", "serpstat", "dataforseo", "seokicks", "majestic",
		"siteauditbot", "ryte",
	}},
	{Name: "ai", Tokens: []string{
		"chatgpt-user", "anthropic-ai", "claude-web", "perplexity", "cohere-ai", "diffbot",
		"omgili", "youbot", "ccbot",
	}},
	{Name: "http-client", Tokens: []string{
		"curl/", "wget/", "python-requests", "python-urllib", "python-httpx", "aiohttp", "httpx",
		"go-http-client", "java/", "okhttp", "apache-httpclient", "libwww-perl", "lwp::simple",
		"node-fetch", "axios/", "undici", "guzzlehttp", "ruby", "postmanruntime", "insomnia",
		"httpie", "scrapy", "headlesschrome", "phantomjs", "puppeteer", "playwright",
		"selenium", "winhttp", "powershell", "dart:io", "reqwest",
	}},
	{Name: "monitoring", Tokens: []string{
		"uptimerobot", "pingdom", "statuscake", "site24x7", "newrelicpinger", "datadog",
		"zapier", "better uptime", "betteruptime", "freshping", "hetrixtools", "uptime-kuma",
		"uptimekuma", "monitis", "nagios", "check_http", "zabbix", "prometheus",
		"blackbox-exporter", "cloudflare-healthchecks", "elb-healthchecker", "kube-probe",
		"googlestackdrivermonitoring",
	}},
	{Name: "scanner", Tokens: []string{
		"zgrab", "masscan", "nmap", "nikto", "sqlmap", "nuclei", "censys", "shodan", "expanse",
		"internet-measurement", "scanner", "wpscan", "dirbuster", "gobuster", "ffuf", "fuzz",
		"netcraft", "l9explore", "leakix", "odin.io",
	}},
}

// Match returns the name of the first rule matching userAgent. Brand names
// alone are not tokens: vendors ship human browsers under the same name as
// their crawlers.
func Match(userAgent string) (string, bool) {
	if userAgent == "" {
		return "", false
	}
	ua := strings.ToLower(userAgent)
	for _, r := range rules {
		for _, tok := range r.Tokens {
			if strings.Contains(ua, tok) {
				return r.Name, true
			}
		}
	}
	return "", false
}
