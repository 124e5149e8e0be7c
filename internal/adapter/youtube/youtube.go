// Package youtube implements domain.PlatformAdapter for the YouTube Data API v3
// behind Google OAuth 2.0.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/creatorsync/internal/adapter/provider"
	"github.com/pscheid92/creatorsync/internal/domain"
	"github.com/pscheid92/creatorsync/internal/platform/oauthstate"
)

const (
	defaultAuthURL   = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultTokenURL  = "https://oauth2.googleapis.com/token"
	defaultRevokeURL = "https://oauth2.googleapis.com/revoke"
	defaultAPIURL    = "https://www.googleapis.com/youtube/v3"

	// maxPageSize is the provider's cap on maxResults.
	maxPageSize = 50

	// DefaultContentLimit is the number of videos pulled per scheduled sync.
	DefaultContentLimit = 50
)

var scopes = []string{
	"https://www.googleapis.com/auth/youtube.readonly",
	"https://www.googleapis.com/auth/yt-analytics.readonly",
	"https://www.googleapis.com/auth/userinfo.profile",
}

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// Endpoint overrides; empty means production.
	AuthURL   string
	TokenURL  string
	RevokeURL string
	APIURL    string

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
	if cfg.RevokeURL == "" {
		cfg.RevokeURL = defaultRevokeURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
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
		client: provider.NewClient(domain.PlatformYouTube, cfg.Timeout, opts...),
		clock:  clock,
	}
}

func (a *Adapter) Platform() domain.Platform { return domain.PlatformYouTube }

// CheckConfigured reports the missing OAuth client settings as a ConfigurationError.
func (a *Adapter) CheckConfigured() error {
	var missing []string
	if a.cfg.ClientID == "" {
		missing = append(missing, "YOUTUBE_CLIENT_ID")
	}
	if a.cfg.ClientSecret == "" {
		missing = append(missing, "YOUTUBE_CLIENT_SECRET")
	}
	if a.cfg.RedirectURI == "" {
		missing = append(missing, "YOUTUBE_REDIRECT_URI")
	}
	if len(missing) > 0 {
		return &domain.ConfigurationError{Platform: domain.PlatformYouTube, Missing: missing}
	}
	return nil
}

// AuthorizationURL asks for offline access with forced consent so Google
// always hands back a refresh token.
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
		"response_type": {"code"},
		"scope":         {strings.Join(scopes, " ")},
		"access_type":   {"offline"},
		"prompt":        {"consent"},
		"state":         {state},
	}
	return a.cfg.AuthURL + "?" + q.Encode(), nil
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (a *Adapter) token(ctx context.Context, op string, form url.Values) (*domain.TokenSet, error) {
	var resp tokenResponse
	if err := a.client.PostForm(ctx, op, a.cfg.TokenURL, form, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &provider.APIError{Platform: domain.PlatformYouTube, Op: op, Code: resp.Error, Message: resp.ErrorDescription}
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("youtube %s: empty access token", op)
	}

	return &domain.TokenSet{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    time.Duration(resp.ExpiresIn) * time.Second,
	}, nil
}

func (a *Adapter) ExchangeCode(ctx context.Context, code string) (*domain.TokenSet, error) {
	if err := a.CheckConfigured(); err != nil {
		return nil, err
	}

	tokens, err := a.token(ctx, "exchange code", url.Values{
		"client_id":     {a.cfg.ClientID},
		"client_secret": {a.cfg.ClientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {a.cfg.RedirectURI},
	})
	if err != nil {
		return nil, &domain.TokenExchangeError{Platform: domain.PlatformYouTube, Err: err}
	}
	return tokens, nil
}

// RefreshToken keeps the stored refresh token when Google does not issue a new one.
func (a *Adapter) RefreshToken(ctx context.Context, creds domain.Credentials) (*domain.TokenSet, error) {
	if creds.RefreshToken == "" {
		return nil, errors.New("no refresh token stored")
	}

	tokens, err := a.token(ctx, "refresh token", url.Values{
		"client_id":     {a.cfg.ClientID},
		"client_secret": {a.cfg.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {creds.RefreshToken},
	})
	if err != nil {
		return nil, err
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = creds.RefreshToken
	}
	return tokens, nil
}

func (a *Adapter) RevokeToken(ctx context.Context, accessToken string) error {
	return a.client.PostForm(ctx, "revoke token", a.cfg.RevokeURL, url.Values{"token": {accessToken}}, nil)
}

type thumbnail struct {
	URL string `json:"url"`
}

type channelsResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title       string               `json:"title"`
			Description string               `json:"description"`
			CustomURL   string               `json:"customUrl"`
			Thumbnails  map[string]thumbnail `json:"thumbnails"`
		} `json:"snippet"`
		Statistics struct {
			SubscriberCount string `json:"subscriberCount"`
			VideoCount      string `json:"videoCount"`
			ViewCount       string `json:"viewCount"`
		} `json:"statistics"`
		ContentDetails struct {
			RelatedPlaylists struct {
				Uploads string `json:"uploads"`
			} `json:"relatedPlaylists"`
		} `json:"contentDetails"`
	} `json:"items"`
}

// FetchProfile reads the authorized user's own channel. ContentRef carries the uploads playlist.
func (a *Adapter) FetchProfile(ctx context.Context, accessToken string) (*domain.ProfileData, error) {
	var resp channelsResponse
	query := url.Values{"part": {"snippet,statistics,contentDetails"}, "mine": {"true"}}
	if err := a.client.GetJSON(ctx, "fetch channel", a.cfg.APIURL+"/channels", query, accessToken, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, &provider.APIError{Platform: domain.PlatformYouTube, Op: "fetch channel", Code: "no_channel", Message: "no channel found for this account"}
	}

	ch := resp.Items[0]
	handle := strings.TrimPrefix(ch.Snippet.CustomURL, "@")
	if handle == "" {
		handle = ch.Snippet.Title
	}

	return &domain.ProfileData{
		ExternalID:      ch.ID,
		Handle:          handle,
		DisplayName:     ch.Snippet.Title,
		Bio:             ch.Snippet.Description,
		ProfileImageURL: bestThumbnail(ch.Snippet.Thumbnails),
		FollowerCount:   parseCount(ch.Statistics.SubscriberCount),
		PostCount:       parseCount(ch.Statistics.VideoCount),
		ContentRef:      ch.ContentDetails.RelatedPlaylists.Uploads,
	}, nil
}

type playlistItemsResponse struct {
	Items []struct {
		ContentDetails struct {
			VideoID string `json:"videoId"`
		} `json:"contentDetails"`
	} `json:"items"`
}

type videosResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title       string               `json:"title"`
			Description string               `json:"description"`
			PublishedAt time.Time            `json:"publishedAt"`
			Thumbnails  map[string]thumbnail `json:"thumbnails"`
		} `json:"snippet"`
		Statistics struct {
			ViewCount    string `json:"viewCount"`
			LikeCount    string `json:"likeCount"`
			CommentCount string `json:"commentCount"`
		} `json:"statistics"`
	} `json:"items"`
}

// FetchContent lists the uploads playlist and then loads statistics for those videos.
func (a *Adapter) FetchContent(ctx context.Context, accessToken, uploadsPlaylist string, limit int) ([]domain.ContentData, error) {
	if uploadsPlaylist == "" {
		return nil, errors.New("youtube content sync needs the uploads playlist id")
	}
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	var playlist playlistItemsResponse
	query := url.Values{
		"part":       {"contentDetails"},
		"playlistId": {uploadsPlaylist},
		"maxResults": {strconv.Itoa(limit)},
	}
	if err := a.client.GetJSON(ctx, "fetch playlist items", a.cfg.APIURL+"/playlistItems", query, accessToken, &playlist); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(playlist.Items))
	for _, it := range playlist.Items {
		if it.ContentDetails.VideoID != "" {
			ids = append(ids, it.ContentDetails.VideoID)
		}
	}
	if len(ids) == 0 {
		return []domain.ContentData{}, nil
	}

	var videos videosResponse
	query = url.Values{"part": {"snippet,statistics"}, "id": {strings.Join(ids, ",")}}
	if err := a.client.GetJSON(ctx, "fetch videos", a.cfg.APIURL+"/videos", query, accessToken, &videos); err != nil {
		return nil, err
	}

	items := make([]domain.ContentData, 0, len(videos.Items))
	for _, v := range videos.Items {
		views := parseCount(v.Statistics.ViewCount)
		likes := parseCount(v.Statistics.LikeCount)
		comments := parseCount(v.Statistics.CommentCount)

		items = append(items, domain.ContentData{
			ExternalID:     v.ID,
			Caption:        v.Snippet.Title,
			MediaType:      "VIDEO",
			ThumbnailURL:   bestThumbnail(v.Snippet.Thumbnails),
			Permalink:      "https://www.youtube.com/watch?v=" + v.ID,
			Likes:          likes,
			Comments:       comments,
			Views:          views,
			EngagementRate: domain.EngagementRate(likes, comments, 0, views),
			PostedAt:       v.Snippet.PublishedAt,
		})
	}
	return items, nil
}

// parseCount reads the decimal strings YouTube uses for statistics. Hidden counts are absent and read as 0.
func parseCount(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func bestThumbnail(thumbs map[string]thumbnail) string {
	for _, size := range []string{"high", "medium", "default"} {
		if t, ok := thumbs[size]; ok && t.URL != "" {
			return t.URL
		}
	}
	return ""
}
