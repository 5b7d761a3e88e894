package templates

import (
	"embed"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"veganagain/internal/config"
	"veganagain/internal/restaurants/types"
	"veganagain/internal/static"
)

//go:embed *.html
var htmlFiles embed.FS

var Home,
	Results,
	Restaurant,
	Bookmark,
	Reviews,
	ReviewForm,
	Login,
	Signup,
	MyPage,
	Spin,
	Error *template.Template

// Page carries what every full page needs for the header.
type Page struct {
	Title string
	User  *types.UserProfile
	Flash string
}

func Init(cfg *config.Config) error {
	static.Init()
	funcs := template.FuncMap{
		"CSSAssetPath":    func() string { return static.CSSAssetPath },
		"JSAssetPath":     func() string { return static.JSAssetPath },
		"HTMXURL":         func() string { return static.HTMXURL },
		"KakaoAppKey":     func() string { return cfg.Map.KakaoAppKey },
		"ClarityScript":   ClarityScript,
		"GoogleTagScript": GoogleTagScript,
		"stars":           stars,
		"rating":          rating,
		"ratings":         func() []int { return []int{5, 4, 3, 2, 1} },
		"percent":         types.ConfidencePercent,
		"band":            types.ConfidenceBand,
		"date":            date,
		"json":            toJSON,
		"image":           imageURL,
	}
	tmpls, err := template.New("all").Funcs(funcs).ParseFS(htmlFiles, "*.html")
	if err != nil {
		return err
	}
	Home = ensure(tmpls, "home.html")
	Results = ensure(tmpls, "results")
	Restaurant = ensure(tmpls, "restaurant.html")
	Bookmark = ensure(tmpls, "bookmark")
	Reviews = ensure(tmpls, "reviews")
	ReviewForm = ensure(tmpls, "review-form")
	Login = ensure(tmpls, "login.html")
	Signup = ensure(tmpls, "signup.html")
	MyPage = ensure(tmpls, "mypage.html")
	Spin = ensure(tmpls, "spinner.html")
	Error = ensure(tmpls, "error.html")

	Clarityproject = cfg.Analytics.ClarityProjectID
	GoogleTagID = cfg.Analytics.GoogleTagID
	return nil
}

func ensure(templates *template.Template, name string) *template.Template {
	tmpl := templates.Lookup(name)
	if tmpl == nil {
		panic("template " + name + " not found")
	}
	return tmpl
}

func stars(n int) string {
	n = min(max(n, 0), 5)
	return strings.Repeat("★", n) + strings.Repeat("☆", 5-n)
}

func rating(r *float64) string {
	if r == nil {
		return ""
	}
	return strconv.FormatFloat(*r, 'f', 1, 64)
}

func date(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006.01.02")
}

var inlineImage = regexp.MustCompile(`^data:image/(jpeg|png|gif|webp);base64,[A-Za-z0-9+/=]+$`)

// imageURL admits http(s) URLs and inline raster images, which html/template
// would otherwise replace with #ZgotmplZ.
func imageURL(s string) template.URL {
	switch {
	case strings.HasPrefix(s, "https://"), strings.HasPrefix(s, "http://"):
		return template.URL(s)
	case inlineImage.MatchString(s):
		return template.URL(s)
	}
	return ""
}

// toJSON feeds data attributes; html/template escapes it for the attribute context.
func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var Clarityproject string
var GoogleTagID string

// ClarityScript generates the Microsoft Clarity tracking script HTML
func ClarityScript() template.HTML {
	if Clarityproject == "" {
		return ""
	}

	script := `<script type="text/javascript">
    (function(c,l,a,r,i,t,y){
        c[a]=c[a]||function(){(c[a].q=c[a].q||[]).push(arguments)};
        t=l.createElement(r);t.async=1;t.src="https://www.clarity.ms/tag/"+i;
        y=l.getElementsByTagName(r)[0];y.parentNode.insertBefore(t,y);
    })(window, document, "clarity", "script", "` + template.JSEscapeString(Clarityproject) + `");
</script>`

	return template.HTML(script)
}

// GoogleTagScript generates the Google tag snippet HTML.
func GoogleTagScript() template.HTML {
	if GoogleTagID == "" {
		return ""
	}
	id := template.JSEscapeString(GoogleTagID)
	script := `<script async src="https://www.googletagmanager.com/gtag/js?id=` + template.URLQueryEscaper(GoogleTagID) + `"></script>
<script>
  window.dataLayer = window.dataLayer || [];
  function gtag(){dataLayer.push(arguments);}
  gtag('js', new Date());

  gtag('config', '` + id + `');
</script>`

	return template.HTML(script)
}

type errorPage struct {
	Page
	Status  int
	Message string
}

// RenderError writes the error page with status.
func RenderError(w http.ResponseWriter, r *http.Request, status int, message string, page Page) {
	if page.Title == "" {
		page.Title = http.StatusText(status)
	}
	w.WriteHeader(status)
	if err := Error.Execute(w, errorPage{Page: page, Status: status, Message: message}); err != nil {
		slog.ErrorContext(r.Context(), "error template execute error", "error", err)
	}
}
