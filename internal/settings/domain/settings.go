package domain

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// CapabilityAdmin allows changing site settings.
const CapabilityAdmin = "settings:admin"

// Setting keys. The set is closed.
const (
	KeySiteTitle         = "site_title"
	KeyContactEmail      = "contact_email"
	KeySocialFacebook    = "social_facebook"
	KeySocialTwitter     = "social_twitter"
	KeySocialInstagram   = "social_instagram"
	KeySocialLinkedIn    = "social_linkedin"
	KeySocialYouTube     = "social_youtube"
	KeyNewsletterEnabled = "newsletter_enabled"
)

var (
	ErrUnknownSetting = errors.New("unknown setting")
	ErrInvalidSetting = errors.New("invalid setting")
)

// SiteSettings is the site-wide configuration editable by administrators.
type SiteSettings struct {
	SiteTitle         string `json:"site_title" validate:"required,max=120"`
	ContactEmail      string `json:"contact_email" validate:"omitempty,email"`
	SocialFacebook    string `json:"social_facebook" validate:"omitempty,url,hostsuffix=facebook.com"`
	SocialTwitter     string `json:"social_twitter" validate:"omitempty,url,hostsuffix=twitter.com x.com"`
	SocialInstagram   string `json:"social_instagram" validate:"omitempty,url,hostsuffix=instagram.com"`
	SocialLinkedIn    string `json:"social_linkedin" validate:"omitempty,url,hostsuffix=linkedin.com"`
	SocialYouTube     string `json:"social_youtube" validate:"omitempty,url,hostsuffix=youtube.com youtu.be"`
	NewsletterEnabled bool   `json:"newsletter_enabled"`

	UpdatedBy string    `json:"updated_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

var validate = mustValidator()

func mustValidator() *validator.Validate {
	v, err := newValidator()
	if err != nil {
		panic(fmt.Sprintf("settings: %v", err))
	}
	return v
}

func newValidator() (*validator.Validate, error) {
	v := validator.New()
	if err := v.RegisterValidation("hostsuffix", validateHostSuffix); err != nil {
		return nil, fmt.Errorf("register hostsuffix: %w", err)
	}
	return v, nil
}

// validateHostSuffix accepts a URL whose host is, or is a subdomain of, one
// of the space separated domains in the tag parameter.
func validateHostSuffix(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, domain := range strings.Fields(fl.Param()) {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// Defaults returns the settings of a fresh site.
func Defaults() SiteSettings {
	return SiteSettings{SiteTitle: "Agora", NewsletterEnabled: true}
}

// Keys lists every setting key in a stable order.
func Keys() []string {
	return []string{
		KeySiteTitle, KeyContactEmail,
		KeySocialFacebook, KeySocialTwitter, KeySocialInstagram, KeySocialLinkedIn, KeySocialYouTube,
		KeyNewsletterEnabled,
	}
}

// Apply overlays values onto s. Unknown keys are rejected as a whole.
func (s *SiteSettings) Apply(values map[string]string) error {
	var unknown []string
	for key := range values {
		if s.field(key) == nil && key != KeyNewsletterEnabled {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: %s", ErrUnknownSetting, strings.Join(unknown, ", "))
	}

	for key, value := range values {
		if key == KeyNewsletterEnabled {
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("%w: %s must be true or false", ErrInvalidSetting, key)
			}
			s.NewsletterEnabled = b
			continue
		}
		*s.field(key) = strings.TrimSpace(value)
	}
	return nil
}

// Values returns the settings as stored key/value pairs.
func (s SiteSettings) Values() map[string]string {
	values := make(map[string]string, len(Keys()))
	for _, key := range Keys() {
		if key == KeyNewsletterEnabled {
			values[key] = strconv.FormatBool(s.NewsletterEnabled)
			continue
		}
		values[key] = *s.field(key)
	}
	return values
}

// Validate checks every field.
func (s SiteSettings) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidSetting, strings.Join(fields, ", "))
		}
		return err
	}
	return nil
}

func (s *SiteSettings) field(key string) *string {
	switch key {
	case KeySiteTitle:
		return &s.SiteTitle
	case KeyContactEmail:
		return &s.ContactEmail
	case KeySocialFacebook:
		return &s.SocialFacebook
	case KeySocialTwitter:
		return &s.SocialTwitter
	case KeySocialInstagram:
		return &s.SocialInstagram
	case KeySocialLinkedIn:
		return &s.SocialLinkedIn
	case KeySocialYouTube:
		return &s.SocialYouTube
	default:
		return nil
	}
}

// Repository persists settings as key/value rows.
type Repository interface {
	// Load returns every stored value. Missing keys keep their defaults.
	Load(ctx context.Context) (values map[string]string, updatedBy string, updatedAt time.Time, err error)
	// Save upserts values.
	Save(ctx context.Context, values map[string]string, updatedBy string, at time.Time) error
}
