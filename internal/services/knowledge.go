package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/diagramlab-backend/internal/clients/neo4jdb"
	"github.com/yungbote/diagramlab-backend/internal/logger"
)

// DomainKnowledge is what the knowledge graph knows about one diagram topic:
// the canonical part labels, the part hierarchy, the suggested reveal order,
// and optional scene assignments for large topics.
type DomainKnowledge struct {
	CanonicalLabels []string            `json:"canonical_labels"`
	Hierarchy       map[string][]string `json:"hierarchy,omitempty"`
	SuggestedOrder  []string            `json:"suggested_order,omitempty"`
	SceneHints      map[string]int      `json:"scene_hints,omitempty"`
}

type DomainKnowledgeService interface {
	Lookup(ctx context.Context, subject, topic string) (*DomainKnowledge, error)
}

type domainKnowledgeService struct {
	log    *logger.Logger
	client *neo4jdb.Client
}

func NewDomainKnowledgeService(log *logger.Logger, client *neo4jdb.Client) DomainKnowledgeService {
	return &domainKnowledgeService{
		log:    log.With("service", "DomainKnowledgeService"),
		client: client,
	}
}

const topicPartsQuery = `
MATCH (t:Topic {subject: $subject, name: $topic})-[:HAS_PART]->(p:Part)
OPTIONAL MATCH (p)-[:HAS_PART]->(c:Part)
RETURN p.label AS label,
       p.reveal_index AS reveal_index,
       p.scene AS scene,
       collect(c.label) AS children
ORDER BY reveal_index, label
`

func (s *domainKnowledgeService) Lookup(ctx context.Context, subject, topic string) (*DomainKnowledge, error) {
	if s.client == nil || s.client.Driver == nil {
		return nil, fmt.Errorf("knowledge graph not configured")
	}
	subject = strings.TrimSpace(subject)
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("missing topic")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	res, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := tx.Run(ctx, topicPartsQuery, map[string]any{
			"subject": subject,
			"topic":   topic,
		})
		if err != nil {
			return nil, err
		}

		dk := &DomainKnowledge{
			Hierarchy:  make(map[string][]string),
			SceneHints: make(map[string]int),
		}
		type ordered struct {
			label string
			index int64
		}
		var order []ordered

		for records.Next(ctx) {
			rec := records.Record()
			label, _ := rec.Get("label")
			labelStr, _ := label.(string)
			if labelStr == "" {
				continue
			}
			dk.CanonicalLabels = append(dk.CanonicalLabels, labelStr)

			if v, _ := rec.Get("reveal_index"); v != nil {
				if idx, ok := v.(int64); ok {
					order = append(order, ordered{label: labelStr, index: idx})
				}
			}
			if v, _ := rec.Get("scene"); v != nil {
				if sc, ok := v.(int64); ok && sc > 0 {
					dk.SceneHints[labelStr] = int(sc)
				}
			}
			if v, _ := rec.Get("children"); v != nil {
				if kids, ok := v.([]any); ok {
					for _, k := range kids {
						if ks, ok := k.(string); ok && ks != "" {
							dk.Hierarchy[labelStr] = append(dk.Hierarchy[labelStr], ks)
						}
					}
				}
			}
		}
		if err := records.Err(); err != nil {
			return nil, err
		}

		sort.SliceStable(order, func(i, j int) bool { return order[i].index < order[j].index })
		for _, o := range order {
			dk.SuggestedOrder = append(dk.SuggestedOrder, o.label)
		}
		return dk, nil
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge lookup %q/%q: %w", subject, topic, err)
	}

	dk := res.(*DomainKnowledge)
	if len(dk.CanonicalLabels) == 0 {
		return nil, fmt.Errorf("no knowledge for topic %q", topic)
	}
	s.log.Debug("knowledge lookup", "topic", topic, "labels", len(dk.CanonicalLabels))
	return dk, nil
}
