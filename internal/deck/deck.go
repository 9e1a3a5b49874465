// Package deck holds the slide content: a fixed set of slides teaching
// backend-engineering concepts, each carrying the summary text the
// summary player speaks and the static fallback text used when the
// assistant backend is unreachable. Content is read-only at runtime; an
// optional YAML file replaces the built-in deck at startup.
package deck

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Slide is one static slide record.
type Slide struct {
	Index    int      `yaml:"index" json:"index"`
	Title    string   `yaml:"title" json:"title"`
	Bullets  []string `yaml:"bullets" json:"bullets"`
	Summary  string   `yaml:"summary" json:"summary"`
	Fallback string   `yaml:"fallback" json:"fallback"`
}

// Deck is an ordered, immutable set of slides.
type Deck struct {
	slides []Slide
}

type deckFile struct {
	Slides []Slide `yaml:"slides"`
}

// Load reads a deck from a YAML file, falling back to the built-in deck
// when path is empty.
func Load(path string) (*Deck, error) {
	if path == "" {
		return BuiltIn(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deck file: %w", err)
	}
	var file deckFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse deck file: %w", err)
	}
	d := &Deck{slides: file.Slides}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate ensures every slide is complete and indices run 0..n-1.
func (d *Deck) Validate() error {
	if len(d.slides) == 0 {
		return fmt.Errorf("deck must contain at least one slide")
	}
	for i, s := range d.slides {
		if s.Index != i {
			return fmt.Errorf("slide %d: index %d out of order", i, s.Index)
		}
		if s.Title == "" {
			return fmt.Errorf("slide %d: title is required", i)
		}
		if s.Summary == "" {
			return fmt.Errorf("slide %d: summary is required", i)
		}
		if s.Fallback == "" {
			return fmt.Errorf("slide %d: fallback text is required", i)
		}
	}
	return nil
}

// Count reports the number of slides.
func (d *Deck) Count() int { return len(d.slides) }

// Slide returns the slide at index, or false when out of range.
func (d *Deck) Slide(index int) (Slide, bool) {
	if index < 0 || index >= len(d.slides) {
		return Slide{}, false
	}
	return d.slides[index], true
}

// Slides returns a copy of all slides in order.
func (d *Deck) Slides() []Slide {
	return append([]Slide(nil), d.slides...)
}

// Fallback returns the static text substituted for assistant replies
// about the given slide; out-of-range indices get a generic line.
func (d *Deck) Fallback(index int) string {
	if s, ok := d.Slide(index); ok {
		return s.Fallback
	}
	return "I could not reach the assistant just now. Please try again in a moment."
}

// BuiltIn returns the eight-slide backend-engineering deck.
func BuiltIn() *Deck {
	return &Deck{slides: builtinSlides}
}

var builtinSlides = []Slide{
	{
		Index: 0,
		Title: "Welcome to Backend Engineering",
		Bullets: []string{
			"What happens after you press Enter in the browser",
			"The server side of every product you use",
			"Course roadmap: protocols, data, scale",
		},
		Summary: "This course walks through the server side of modern applications, " +
			"from the first HTTP request to systems that serve millions of users. " +
			"We start with how clients and servers talk, then move through APIs, " +
			"data storage, caching, asynchronous work and scaling.",
		Fallback: "Backend engineering covers everything that runs on servers: handling " +
			"requests, storing data, and keeping systems fast and reliable as they grow.",
	},
	{
		Index: 1,
		Title: "Clients, Servers and HTTP",
		Bullets: []string{
			"Request/response over TCP",
			"Methods, status codes and headers",
			"Statelessness and why it matters",
		},
		Summary: "HTTP is a stateless request and response protocol. A client opens a " +
			"connection, sends a method, a path and headers, and the server answers " +
			"with a status code and a body. Because no request remembers the last " +
			"one, servers stay simple and easy to replicate.",
		Fallback: "HTTP is the stateless protocol between clients and servers: each " +
			"request carries a method, path and headers, and gets back a status code " +
			"and a body.",
	},
	{
		Index: 2,
		Title: "Designing REST APIs",
		Bullets: []string{
			"Resources and URIs",
			"Verbs map to operations",
			"Versioning and pagination",
		},
		Summary: "REST models your system as resources addressed by URIs. The HTTP verbs " +
			"carry the intent: GET reads, POST creates, PUT replaces, DELETE removes. " +
			"Good APIs are predictable, versioned, and paginate large collections " +
			"instead of returning everything at once.",
		Fallback: "A REST API exposes resources at URIs and uses HTTP verbs for " +
			"operations: GET to read, POST to create, PUT to update, DELETE to remove.",
	},
	{
		Index: 3,
		Title: "Databases and Persistence",
		Bullets: []string{
			"Relational vs document stores",
			"Transactions and ACID",
			"Indexes: the price of fast reads",
		},
		Summary: "Persistence is where correctness lives. Relational databases give you " +
			"transactions with ACID guarantees; document stores trade schema rigidity " +
			"for flexibility. Indexes make reads fast but every write has to maintain " +
			"them, so index deliberately.",
		Fallback: "Databases persist application state. Relational stores offer " +
			"transactions and strong guarantees; document stores offer flexible " +
			"schemas. Indexes speed up reads at a cost on writes.",
	},
	{
		Index: 4,
		Title: "Caching",
		Bullets: []string{
			"Cache-aside and write-through",
			"TTLs and invalidation",
			"What to cache and what never to",
		},
		Summary: "A cache keeps hot data close so the database does less work. With " +
			"cache-aside the application reads the cache first and fills it on a " +
			"miss. The hard part is invalidation: stale data is a bug you chose to " +
			"have, so set TTLs that match how fresh the data must be.",
		Fallback: "Caching stores frequently read data in fast storage. Cache-aside " +
			"reads the cache first and fills it on a miss; invalidation and TTLs keep " +
			"the data acceptably fresh.",
	},
	{
		Index: 5,
		Title: "Queues and Asynchronous Work",
		Bullets: []string{
			"Decouple producers from consumers",
			"At-least-once delivery and idempotency",
			"Backpressure",
		},
		Summary: "Not everything belongs in the request path. Message queues let you " +
			"accept work now and do it later, smoothing spikes and isolating " +
			"failures. Because messages can be delivered more than once, consumers " +
			"must be idempotent.",
		Fallback: "Message queues decouple producers from consumers so slow work " +
			"happens outside the request path. Consumers should be idempotent because " +
			"delivery is usually at-least-once.",
	},
	{
		Index: 6,
		Title: "Scaling and Load Balancing",
		Bullets: []string{
			"Vertical vs horizontal scaling",
			"Load balancers and health checks",
			"Stateless services scale; state is the anchor",
		},
		Summary: "Horizontal scaling means more copies of the same service behind a " +
			"load balancer. That only works when the service is stateless, which is " +
			"why session state moves to shared stores. Health checks let the balancer " +
			"route around failing instances automatically.",
		Fallback: "Systems scale horizontally by running more stateless instances " +
			"behind a load balancer, which health-checks instances and routes around " +
			"failures.",
	},
	{
		Index: 7,
		Title: "Security and Wrap-up",
		Bullets: []string{
			"Authentication vs authorization",
			"Never trust client input",
			"Where to go from here",
		},
		Summary: "Security is a habit, not a feature. Authenticate who the caller is, " +
			"authorize what they may do, validate everything that crosses the " +
			"boundary, and store secrets outside the code. From here, build " +
			"something small end to end; nothing teaches backends like running one.",
		Fallback: "Backend security starts with authentication and authorization, " +
			"validating all client input, and keeping secrets out of source code.",
	},
}
