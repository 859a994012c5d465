package core

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"coursewatcher/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("scrapers/udemy/core")

// Credentials are the cookies captured by the login collaborator. The core
// never performs a login itself, it only replays an existing session.
type Credentials struct {
	AccessToken string `json:"access_token"`
	ClientId    string `json:"client_id"`
	CsrfToken   string `json:"csrftoken"`
}

type Client struct {
	Domain  string
	BaseUrl *url.URL
	Http    *resty.Client
}

type ClientOptions struct {
	// the udemy subdomain, e.g. "www" for the public site or a
	// business tenant name
	Domain      string
	Credentials Credentials
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Domain == "" {
		return nil, fmt.Errorf("domain must not be empty")
	}

	baseUrl, err := url.Parse(fmt.Sprintf("https://%s.udemy.com", opts.Domain))
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(baseUrl.String())
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetHeaders(map[string]string{
		"origin":             baseUrl.String() + "/",
		"referer":            baseUrl.String() + "/",
		"accept":             "application/json, text/plain, */*",
		"content-type":       "application/json;charset=utf-8",
		"x-requested-with":   "XMLHttpRequest",
		"x-checkout-version": "2",
		"authority":          baseUrl.Hostname(),
	})
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(time.Second * 30)

	client.SetCookies([]*http.Cookie{
		{Name: "access_token", Value: opts.Credentials.AccessToken, Domain: baseUrl.Hostname()},
		{Name: "client_id", Value: opts.Credentials.ClientId, Domain: baseUrl.Hostname()},
		{Name: "csrftoken", Value: opts.Credentials.CsrfToken, Domain: baseUrl.Hostname()},
	})
	if opts.Credentials.AccessToken != "" {
		bearer := fmt.Sprintf("Bearer %s", opts.Credentials.AccessToken)
		client.SetHeader("authorization", bearer)
		client.SetHeader("x-udemy-authorization", bearer)
	}
	if opts.Credentials.CsrfToken != "" {
		client.SetHeader("x-csrftoken", opts.Credentials.CsrfToken)
	}

	// udemy throttles aggressive clients, stay under 2 requests a second
	limiter := rate.NewLimiter(2, 2)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(client, "scrapers/udemy/http")

	return &Client{
		Domain:  opts.Domain,
		BaseUrl: baseUrl,
		Http:    client,
	}, nil
}
