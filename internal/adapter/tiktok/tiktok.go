// Package tiktok implements domain.PlatformAdapter for the TikTok v2 API.
package tiktok

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/creatorsync/internal/adapter/provider"
	"github.com/pscheid92/creatorsync/internal/domain"
	"github.com/pscheid92/creatorsync/internal/platform/oauthstate"
)

const (
	defaultAuthURL = "https://www.tiktok.com/v2/auth/authorize/"
	defaultAPIURL  = "https://open.tiktokapis.com"

	scopes = "user.info.basic,video.list"

	profileFields = "open_id,union_id,avatar_url,display_name,bio_description,profile_deep_link,is_verified,follower_count,following_count,likes_count,video_count"
	videoFields   = "id,create_time,cover_image_url,share_url,video_description,title,embed_link,like_count,comment_count,share_count,view_count"

	// maxPageSize is the provider's cap on video/list max_count.
	maxPageSize = 20

	// DefaultContentLimit is the number of videos pulled per scheduled sync.
	DefaultContentLimit = 20
)

var handlePattern = regexp.MustCompile(`@([^?/]+)`)

type Config struct {
	ClientKey    string
	ClientSecret string
	RedirectURI  string

	// Endpoint overrides; empty means production.
	AuthURL string
	APIURL  string

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
		client: provider.NewClient(domain.PlatformTikTok, cfg.Timeout, opts...),
		clock:  clock,
	}
}

func (a *Adapter) Platform() domain.Platform { return domain.PlatformTikTok }

// CheckConfigured reports the missing OAuth client settings as a ConfigurationError.
func (a *Adapter) CheckConfigured() error {
	var missing []string
	if a.cfg.ClientKey == "" {
		missing = append(missing, "TIKTOK_CLIENT_KEY")
	}
	if a.cfg.ClientSecret == "" {
		missing = append(missing, "TIKTOK_CLIENT_SECRET")
	}
	if a.cfg.RedirectURI == "" {
		missing = append(missing, "TIKTOK_REDIRECT_URI")
	}
	if len(missing) > 0 {
		return &domain.ConfigurationError{Platform: domain.PlatformTikTok, Missing: missing}
	}
	return nil
}

// AuthorizationURL embeds the owner and a CSRF nonce in state, as TikTok requires.
func (a *Adapter) AuthorizationURL(ownerID string) (string, error) {
	if err := a.CheckConfigured(); err != nil {
		return "", err
	}

	state, err := oauthstate.Encode(ownerID, a.clock.Now())
	if err != nil {
		return "", err
	}

	q := url.Values{
		"client_key":    {a.cfg.ClientKey},
		"scope":         {scopes},
		"response_type": {"code"},
		"redirect_uri":  {a.cfg.RedirectURI},
		"state":         {state},
	}
	return a.cfg.AuthURL + "?" + q.Encode(), nil
}

type tokenPayload struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	OpenID           string `json:"open_id"`
	Scope            string `json:"scope"`
}

// tokenResponse accepts both the flat v2 shape and the older data-wrapped one.
type tokenResponse struct {
	tokenPayload
	Data             *tokenPayload `json:"data"`
	Error            string        `json:"error"`
	ErrorDescription string        `json:"error_description"`
}

func (r *tokenResponse) payload() tokenPayload {
	if r.AccessToken == "" && r.Data != nil {
		return *r.Data
	}
	return r.tokenPayload
}

func (a *Adapter) token(ctx context.Context, op string, form url.Values) (*domain.TokenSet, error) {
	var resp tokenResponse
	if err := a.client.PostForm(ctx, op, a.cfg.APIURL+"/v2/oauth/token/", form, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &provider.APIError{Platform: domain.PlatformTikTok, Op: op, Code: resp.Error, Message: resp.ErrorDescription}
	}

	p := resp.payload()
	if p.AccessToken == "" {
		return nil, fmt.Errorf("tiktok %s: empty access token", op)
	}

	return &domain.TokenSet{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresIn:    time.Duration(p.ExpiresIn) * time.Second,
	}, nil
}

func (a *Adapter) ExchangeCode(ctx context.Context, code string) (*domain.TokenSet, error) {
	if err := a.CheckConfigured(); err != nil {
		return nil, err
	}

	tokens, err := a.token(ctx, "exchange code", url.Values{
		"client_key":    {a.cfg.ClientKey},
		"client_secret": {a.cfg.ClientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {a.cfg.RedirectURI},
	})
	if err != nil {
		return nil, &domain.TokenExchangeError{Platform: domain.PlatformTikTok, Err: err}
	}
	return tokens, nil
}

// RefreshToken uses the dedicated refresh token; TikTok rotates it on every refresh.
func (a *Adapter) RefreshToken(ctx context.Context, creds domain.Credentials) (*domain.TokenSet, error) {
	if creds.RefreshToken == "" {
		return nil, errors.New("no refresh token stored")
	}

	return a.token(ctx, "refresh token", url.Values{
		"client_key":    {a.cfg.ClientKey},
		"client_secret": {a.cfg.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {creds.RefreshToken},
	})
}

func (a *Adapter) RevokeToken(ctx context.Context, accessToken string) error {
	var resp tokenResponse
	err := a.client.PostForm(ctx, "revoke token", a.cfg.APIURL+"/v2/oauth/revoke/", url.Values{
		"client_key":    {a.cfg.ClientKey},
		"client_secret": {a.cfg.ClientSecret},
		"token":         {accessToken},
	}, &resp)
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return &provider.APIError{Platform: domain.PlatformTikTok, Op: "revoke token", Code: resp.Error, Message: resp.ErrorDescription}
	}
	return nil
}

// apiError is the envelope error object; code "ok" means success.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	LogID   string `json:"log_id"`
}

func (e apiError) check(op string) error {
	if e.Code == "" || e.Code == "ok" {
		return nil
	}
	return &provider.APIError{Platform: domain.PlatformTikTok, Op: op, Code: e.Code, Message: e.Message}
}

type userInfoResponse struct {
	Data struct {
		User struct {
			OpenID          string `json:"open_id"`
			UnionID         string `json:"union_id"`
			AvatarURL       string `json:"avatar_url"`
			DisplayName     string `json:"display_name"`
			BioDescription  string `json:"bio_description"`
			ProfileDeepLink string `json:"profile_deep_link"`
			IsVerified      bool   `json:"is_verified"`
			FollowerCount   int64  `json:"follower_count"`
			FollowingCount  int64  `json:"following_count"`
			LikesCount      int64  `json:"likes_count"`
			VideoCount      int64  `json:"video_count"`
		} `json:"user"`
	} `json:"data"`
	Error apiError `json:"error"`
}

func (a *Adapter) FetchProfile(ctx context.Context, accessToken string) (*domain.ProfileData, error) {
	var resp userInfoResponse
	query := url.Values{"fields": {profileFields}}
	if err := a.client.GetJSON(ctx, "fetch profile", a.cfg.APIURL+"/v2/user/info/", query, accessToken, &resp); err != nil {
		return nil, err
	}
	if err := resp.Error.check("fetch profile"); err != nil {
		return nil, err
	}

	u := resp.Data.User
	if u.OpenID == "" {
		return nil, errors.New("tiktok profile response missing open_id")
	}

	return &domain.ProfileData{
		ExternalID:      u.OpenID,
		Handle:          HandleFromDeepLink(u.ProfileDeepLink, u.DisplayName),
		DisplayName:     u.DisplayName,
		Bio:             u.BioDescription,
		ProfileImageURL: u.AvatarURL,
		FollowerCount:   u.FollowerCount,
		FollowingCount:  u.FollowingCount,
		PostCount:       u.VideoCount,
		IsVerified:      u.IsVerified,
	}, nil
}

// HandleFromDeepLink extracts "name" from ".../@name?..." or returns fallback.
func HandleFromDeepLink(link, fallback string) string {
	if m := handlePattern.FindStringSubmatch(link); m != nil {
		return m[1]
	}
	return fallback
}

type videoListResponse struct {
	Data struct {
		Videos []struct {
			ID               string `json:"id"`
			CreateTime       int64  `json:"create_time"`
			CoverImageURL    string `json:"cover_image_url"`
			ShareURL         string `json:"share_url"`
			VideoDescription string `json:"video_description"`
			Title            string `json:"title"`
			EmbedLink        string `json:"embed_link"`
			LikeCount        int64  `json:"like_count"`
			CommentCount     int64  `json:"comment_count"`
			ShareCount       int64  `json:"share_count"`
			ViewCount        int64  `json:"view_count"`
		} `json:"videos"`
		Cursor  int64 `json:"cursor"`
		HasMore bool  `json:"has_more"`
	} `json:"data"`
	Error apiError `json:"error"`
}

func (a *Adapter) FetchContent(ctx context.Context, accessToken, _ string, limit int) ([]domain.ContentData, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	var resp videoListResponse
	query := url.Values{"fields": {videoFields}}
	body := map[string]int{"max_count": limit}
	if err := a.client.PostJSON(ctx, "fetch videos", a.cfg.APIURL+"/v2/video/list/", query, accessToken, body, &resp); err != nil {
		return nil, err
	}
	if err := resp.Error.check("fetch videos"); err != nil {
		return nil, err
	}

	items := make([]domain.ContentData, 0, len(resp.Data.Videos))
	for _, v := range resp.Data.Videos {
		caption := v.VideoDescription
		if caption == "" {
			caption = v.Title
		}
		items = append(items, domain.ContentData{
			ExternalID:     v.ID,
			Caption:        caption,
			MediaType:      "VIDEO",
			MediaURL:       v.EmbedLink,
			ThumbnailURL:   v.CoverImageURL,
			Permalink:      v.ShareURL,
			Likes:          v.LikeCount,
			Comments:       v.CommentCount,
			Shares:         v.ShareCount,
			Views:          v.ViewCount,
			EngagementRate: domain.EngagementRate(v.LikeCount, v.CommentCount, v.ShareCount, v.ViewCount),
			PostedAt:       time.Unix(v.CreateTime, 0).UTC(),
		})
	}
	return items, nil
}
