// Package instagram implements domain.PlatformAdapter for the Instagram Graph API.
package instagram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/creatorsync/internal/adapter/provider"
	"github.com/pscheid92/creatorsync/internal/domain"
	"github.com/pscheid92/creatorsync/internal/platform/oauthstate"
)

const (
	defaultAuthURL  = "https://api.instagram.com/oauth/authorize"
	defaultTokenURL = "https://api.instagram.com/oauth/access_token"
	defaultGraphURL = "https://graph.instagram.com"

	scopes = "user_profile,user_media"

	profileFields = "id,username,name,biography,profile_picture_url,followers_count,follows_count,media_count,is_verified"
	mediaFields   = "id,caption,media_type,media_url,thumbnail_url,permalink,timestamp"
	insightMetric = "impressions,reach,saved,video_views,shares"

	// DefaultContentLimit is the number of posts pulled per scheduled sync.
	DefaultContentLimit = 25

	timestampLayout = "2006-01-02T15:04:05-0700"
)

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// Endpoint overrides; empty means production.
	AuthURL  string
	TokenURL string
	GraphURL string

	Timeout    time.Duration
	HTTPClient *http.Client
	Clock      clockwork.Clock

	// ClientOptions are passed through to provider.NewClient.
	ClientOptions []provider.Option
}

type Adapter struct {
	cfg    Config
	client *provider.Client
	clock  clockwork.Clock
}

var _ domain.PlatformAdapter = (*Adapter)(nil)

func New(cfg Config) *Adapter {
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.GraphURL == "" {
		cfg.GraphURL = defaultGraphURL
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	opts := append([]provider.Option(nil), cfg.ClientOptions...)
	if cfg.HTTPClient != nil {
		opts = append(opts, provider.WithHTTPClient(cfg.HTTPClient))
	}

	return &Adapter{
		cfg:    cfg,
		client: provider.NewClient(domain.PlatformInstagram, cfg.Timeout, opts...),
		clock:  clock,
	}
}

func (a *Adapter) Platform() domain.Platform { return domain.PlatformInstagram }

// CheckConfigured reports the missing OAuth client settings as a ConfigurationError.
func (a *Adapter) CheckConfigured() error {
	var missing []string
	if a.cfg.ClientID == "" {
		missing = append(missing, "INSTAGRAM_CLIENT_ID")
	}
	if a.cfg.ClientSecret == "" {
		missing = append(missing, "INSTAGRAM_CLIENT_SECRET")
	}
	if a.cfg.RedirectURI == "" {
		missing = append(missing, "INSTAGRAM_REDIRECT_URI")
	}
	if len(missing) > 0 {
		return &domain.ConfigurationError{Platform: domain.PlatformInstagram, Missing: missing}
	}
	return nil
}

func (a *Adapter) AuthorizationURL(ownerID string) (string, error) {
	if err := a.CheckConfigured(); err != nil {
		return "", err
	}

	state, err := oauthstate.Encode(ownerID, a.clock.Now())
	if err != nil {
		return "", err
	}

	q := url.Values{
		"client_id":     {a.cfg.ClientID},
		"redirect_uri":  {a.cfg.RedirectURI},
		"scope":         {scopes},
		"response_type": {"code"},
		"state":         {state},
	}
	return a.cfg.AuthURL + "?" + q.Encode(), nil
}

type shortLivedToken struct {
	AccessToken string `json:"access_token"`
	UserID      int64  `json:"user_id"`
}

type longLivedToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// ExchangeCode trades the code for a short-lived token and immediately upgrades
// it to a long-lived one. Callers never see the short-lived token.
func (a *Adapter) ExchangeCode(ctx context.Context, code string) (*domain.TokenSet, error) {
	if err := a.CheckConfigured(); err != nil {
		return nil, err
	}

	var short shortLivedToken
	form := url.Values{
		"client_id":     {a.cfg.ClientID},
		"client_secret": {a.cfg.ClientSecret},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {a.cfg.RedirectURI},
		"code":          {code},
	}
	if err := a.client.PostForm(ctx, "exchange code", a.cfg.TokenURL, form, &short); err != nil {
		return nil, &domain.TokenExchangeError{Platform: domain.PlatformInstagram, Err: err}
	}
	if short.AccessToken == "" {
		return nil, &domain.TokenExchangeError{Platform: domain.PlatformInstagram, Err: errors.New("empty short-lived token")}
	}

	var long longLivedToken
	query := url.Values{
		"grant_type":    {"ig_exchange_token"},
		"client_secret": {a.cfg.ClientSecret},
		"access_token":  {short.AccessToken},
	}
	if err := a.client.GetJSON(ctx, "exchange long-lived token", a.cfg.GraphURL+"/access_token", query, "", &long); err != nil {
		return nil, &domain.TokenExchangeError{Platform: domain.PlatformInstagram, Err: err}
	}
	if long.AccessToken == "" {
		return nil, &domain.TokenExchangeError{Platform: domain.PlatformInstagram, Err: errors.New("empty long-lived token")}
	}

	return &domain.TokenSet{
		AccessToken: long.AccessToken,
		ExpiresIn:   time.Duration(long.ExpiresIn) * time.Second,
	}, nil
}

// RefreshToken extends a long-lived token using the access token itself.
func (a *Adapter) RefreshToken(ctx context.Context, creds domain.Credentials) (*domain.TokenSet, error) {
	if creds.AccessToken == "" {
		return nil, errors.New("no access token to refresh")
	}

	var long longLivedToken
	query := url.Values{
		"grant_type":   {"ig_refresh_token"},
		"access_token": {creds.AccessToken},
	}
	if err := a.client.GetJSON(ctx, "refresh token", a.cfg.GraphURL+"/refresh_access_token", query, "", &long); err != nil {
		return nil, err
	}
	if long.AccessToken == "" {
		return nil, errors.New("refresh returned empty token")
	}

	return &domain.TokenSet{
		AccessToken: long.AccessToken,
		ExpiresIn:   time.Duration(long.ExpiresIn) * time.Second,
	}, nil
}

// RevokeToken is a no-op: Instagram offers no revocation endpoint and the
// long-lived token simply lapses once it stops being refreshed.
func (a *Adapter) RevokeToken(context.Context, string) error {
	return nil
}

type profileResponse struct {
	ID                string `json:"id"`
	Username          string `json:"username"`
	Name              string `json:"name"`
	Biography         string `json:"biography"`
	ProfilePictureURL string `json:"profile_picture_url"`
	FollowersCount    int64  `json:"followers_count"`
	FollowsCount      int64  `json:"follows_count"`
	MediaCount        int64  `json:"media_count"`
	IsVerified        bool   `json:"is_verified"`
}

func (a *Adapter) FetchProfile(ctx context.Context, accessToken string) (*domain.ProfileData, error) {
	var p profileResponse
	query := url.Values{"fields": {profileFields}, "access_token": {accessToken}}
	if err := a.client.GetJSON(ctx, "fetch profile", a.cfg.GraphURL+"/me", query, "", &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, errors.New("instagram profile response missing id")
	}

	return &domain.ProfileData{
		ExternalID:      p.ID,
		Handle:          p.Username,
		DisplayName:     p.Name,
		Bio:             p.Biography,
		ProfileImageURL: p.ProfilePictureURL,
		FollowerCount:   p.FollowersCount,
		FollowingCount:  p.FollowsCount,
		PostCount:       p.MediaCount,
		IsVerified:      p.IsVerified,
	}, nil
}

type mediaResponse struct {
	Data []media `json:"data"`
}

type media struct {
	ID           string `json:"id"`
	Caption      string `json:"caption"`
	MediaType    string `json:"media_type"`
	MediaURL     string `json:"media_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	Permalink    string `json:"permalink"`
	Timestamp    string `json:"timestamp"`
}

type counts struct {
	LikeCount     int64 `json:"like_count"`
	CommentsCount int64 `json:"comments_count"`
}

type insightsResponse struct {
	Data []struct {
		Name   string `json:"name"`
		Values []struct {
			Value int64 `json:"value"`
		} `json:"values"`
		TotalValue *struct {
			Value int64 `json:"value"`
		} `json:"total_value"`
	} `json:"data"`
}

// FetchContent lists recent media and enriches each post with counts and insights.
// Insight failures leave the counts at zero unless the provider is rate limiting.
func (a *Adapter) FetchContent(ctx context.Context, accessToken, _ string, limit int) ([]domain.ContentData, error) {
	if limit <= 0 {
		limit = DefaultContentLimit
	}

	var list mediaResponse
	query := url.Values{
		"fields":       {mediaFields},
		"limit":        {fmt.Sprint(limit)},
		"access_token": {accessToken},
	}
	if err := a.client.GetJSON(ctx, "fetch media", a.cfg.GraphURL+"/me/media", query, "", &list); err != nil {
		return nil, err
	}

	items := make([]domain.ContentData, 0, len(list.Data))
	for _, m := range list.Data {
		item, err := a.enrich(ctx, accessToken, m)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (a *Adapter) enrich(ctx context.Context, accessToken string, m media) (domain.ContentData, error) {
	item := domain.ContentData{
		ExternalID:   m.ID,
		Caption:      m.Caption,
		MediaType:    m.MediaType,
		MediaURL:     m.MediaURL,
		ThumbnailURL: m.ThumbnailURL,
		Permalink:    m.Permalink,
	}
	if ts, err := time.Parse(timestampLayout, m.Timestamp); err == nil {
		item.PostedAt = ts
	}

	var c counts
	err := a.client.GetJSON(ctx, "fetch media counts", a.cfg.GraphURL+"/"+m.ID,
		url.Values{"fields": {"like_count,comments_count"}, "access_token": {accessToken}}, "", &c)
	if err := tolerate(err, m.ID, "counts"); err != nil {
		return item, err
	}
	item.Likes = c.LikeCount
	item.Comments = c.CommentsCount

	var insights insightsResponse
	err = a.client.GetJSON(ctx, "fetch media insights", a.cfg.GraphURL+"/"+m.ID+"/insights",
		url.Values{"metric": {insightMetric}, "access_token": {accessToken}}, "", &insights)
	if err := tolerate(err, m.ID, "insights"); err != nil {
		return item, err
	}
	for _, metric := range insights.Data {
		var v int64
		switch {
		case metric.TotalValue != nil:
			v = metric.TotalValue.Value
		case len(metric.Values) > 0:
			v = metric.Values[0].Value
		}

		switch metric.Name {
		case "impressions":
			item.Impressions = v
		case "reach":
			item.Reach = v
		case "saved":
			item.Saves = v
		case "shares":
			item.Shares = v
		case "video_views":
			item.Views = v
		}
	}

	if m.MediaType != "VIDEO" {
		item.Views = item.Impressions
	}

	denominator := item.Reach
	if denominator <= 0 {
		denominator = item.Impressions
	}
	if denominator <= 0 {
		denominator = item.Views
	}
	item.EngagementRate = domain.EngagementRate(item.Likes, item.Comments, item.Shares, denominator)

	return item, nil
}

// tolerate swallows per-post enrichment errors except rate limits.
func tolerate(err error, mediaID, what string) error {
	if err == nil {
		return nil
	}
	if domain.IsRateLimit(err) {
		return err
	}
	slog.Debug("Instagram media enrichment unavailable", "media_id", mediaID, "what", what, "error", err)
	return nil
}
