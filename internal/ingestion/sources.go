package ingestion

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"github.com/54b3r/kbqa-go/internal/version"
)

// Source produces documents for the pipeline.
type Source interface {
	Load(ctx context.Context) ([]Input, error)
}

// Inline is a literal list of documents.
type Inline []Input

// Load returns a copy of the list.
func (s Inline) Load(context.Context) ([]Input, error) {
	return append([]Input(nil), s...), nil
}

// Directory turns every supported file under Path into one document. The
// title is derived from the file name; hidden files and directories are
// skipped. A file that cannot be read becomes an Input carrying Err so the
// pipeline reports it alongside the others.
type Directory struct {
	Path      string
	Recursive bool
}

// Load scans the directory in lexical order.
func (d Directory) Load(ctx context.Context) ([]Input, error) {
	info, err := os.Stat(d.Path)
	if err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("ingestion: %s is not a directory", d.Path)
	}

	var paths []string
	err = filepath.WalkDir(d.Path, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == d.Path {
			return nil
		}
		if strings.HasPrefix(e.Name(), ".") {
			if e.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if e.IsDir() {
			if !d.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if e.Type().IsRegular() && Supported(e.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ingestion: scan %s: %w", d.Path, err)
	}
	sort.Strings(paths)

	inputs := make([]Input, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		inputs = append(inputs, ReadFile(p))
	}
	return inputs, nil
}

// ReadFile reads one supported file into an Input keyed by its path.
func ReadFile(path string) Input {
	in := Input{Title: TitleFromFilename(path), Source: filepath.ToSlash(filepath.Clean(path))}
	var (
		text string
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		text, err = readPDF(path)
	} else {
		var b []byte
		b, err = os.ReadFile(path)
		text = string(b)
	}
	if err != nil {
		in.Err = fmt.Errorf("read %s: %w", path, err)
		return in
	}
	in.Content = strings.TrimSpace(text)
	return in
}

// readPDF extracts the plain text of every page.
func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// URLs fetches web pages and turns each into a document. HTML is reduced
// to its visible text and the <title> element becomes the title.
type URLs struct {
	URLs []string
	// Client defaults to a 30s-timeout client.
	Client *http.Client
	// UserAgent is sent with every request.
	UserAgent string
}

// Load fetches each URL in order. Fetch failures are reported per document.
func (u URLs) Load(ctx context.Context) ([]Input, error) {
	client := u.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	ua := u.UserAgent
	if ua == "" {
		ua = version.UserAgent() + " (knowledge base ingestion)"
	}

	inputs := make([]Input, 0, len(u.URLs))
	for _, raw := range u.URLs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		in := Input{Source: raw, Title: TitleFromURL(raw)}
		title, text, err := fetch(ctx, client, ua, raw)
		if err != nil {
			in.Err = fmt.Errorf("fetch %s: %w", raw, err)
		} else {
			if title != "" {
				in.Title = title
			}
			in.Content = text
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

// fetch retrieves a URL and returns its title and text content.
func fetch(ctx context.Context, client *http.Client, ua, url string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html, text/plain, text/markdown")

	resp, err := client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", "", fmt.Errorf("reading body: %w", err)
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "html") {
		title, text := htmlText(string(body))
		return title, text, nil
	}
	return "", strings.TrimSpace(string(body)), nil
}

// htmlText returns the <title> and the visible text of an HTML document,
// dropping script and style contents and collapsing whitespace.
func htmlText(doc string) (string, string) {
	z := html.NewTokenizer(strings.NewReader(doc))
	var (
		title, body strings.Builder
		skip        int
		inTitle     bool
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(title.String()), strings.Join(strings.Fields(body.String()), " ")
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "noscript":
				skip++
			case "title":
				inTitle = true
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "noscript":
				if skip > 0 {
					skip--
				}
			case "title":
				inTitle = false
			}
		case html.TextToken:
			switch {
			case inTitle:
				title.Write(z.Text())
			case skip == 0:
				body.Write(z.Text())
				body.WriteByte(' ')
			}
		}
	}
}

// Sample is the built-in demonstration corpus used by `kbqa ingest --sample`.
type Sample struct{}

// Load returns the sample documents.
func (Sample) Load(context.Context) ([]Input, error) {
	return append([]Input(nil), sampleDocuments...), nil
}

var sampleDocuments = []Input{
	{
		Title: "What Machine Learning Is",
		Content: "Machine learning is a branch of artificial intelligence in which programs improve at a task " +
			"by studying examples instead of following hand-written rules. A model is fitted to training data " +
			"and then used to make predictions about data it has not seen before.",
	},
	{
		Title: "Supervised, Unsupervised and Reinforcement Learning",
		Content: "Supervised learning trains on labelled examples, such as emails marked spam or not spam. " +
			"Unsupervised learning looks for structure in unlabelled data, for example grouping customers into segments. " +
			"Reinforcement learning has an agent act in an environment and learn from rewards and penalties.",
	},
	{
		Title: "Neural Networks",
		Content: "A neural network is built from layers of simple connected units whose weights are adjusted during training. " +
			"Networks with many hidden layers are called deep networks, and deep learning is the practice of training them " +
			"to recognise complex patterns in images, audio and text.",
	},
	{
		Title: "Natural Language Processing",
		Content: "Natural language processing lets computers read, interpret and generate human language. " +
			"Modern systems combine linguistics with machine learning to translate text, answer questions, " +
			"summarise documents and turn sentences into embeddings for semantic search.",
	},
	{
		Title: "Computer Vision",
		Content: "Computer vision teaches machines to understand images and video. Models detect and classify objects, " +
			"segment scenes and track motion, which powers applications such as medical imaging, quality inspection " +
			"and driver assistance.",
	},
}
