package worker

import (
	"context"
	"errors"
	"time"

	"abilico-inference/pkg/encoder"
	"abilico-inference/pkg/entity"
	"abilico-inference/pkg/entitycache"
	"abilico-inference/pkg/mlruntime"
	"abilico-inference/pkg/postprocess"
	"abilico-inference/pkg/predict"
	"abilico-inference/pkg/schema"
	"abilico-inference/pkg/store"
)

// predictEntities is the batched predict path: memory tier, then persistent
// tier, then sub-batched inference for the residual. Output order always
// matches input order; cache write-back happens after the response.
func (w *Worker) predictEntities(ctx context.Context, ents []entity.Entity) ([]postprocess.EnrichedEntity, error) {
	doc, enc, err := w.ensureSchema(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(ents))
	for i, e := range ents {
		keys[i] = entitycache.Key(e)
	}

	// Both cache tiers in one pass; hits populate memory.
	cached := w.preds.GetMany(ctx, keys)

	results := make([]map[string]*predict.Prediction, len(ents))
	fromCache := make([]bool, len(ents))
	byDomain := map[entity.Domain][]int{}
	for i := range ents {
		if entry, ok := cached[keys[i]]; ok {
			results[i] = markFromCache(entry.Predictions)
			fromCache[i] = true
			continue
		}
		d := ents[i].Domain()
		byDomain[d] = append(byDomain[d], i)
	}

	for domain, indices := range byDomain {
		modelNames := doc.ModelsFor(domain)
		for start := 0; start < len(indices); start += w.subBatch {
			end := start + w.subBatch
			if end > len(indices) {
				end = len(indices)
			}
			chunk := indices[start:end]
			w.inferSubBatch(ctx, doc, enc, enc2mat(enc, ents, chunk), chunk, modelNames, results)
		}
	}

	// Queue cache writes for everything freshly computed; the response does
	// not wait for the commit.
	var entries []*store.PredictionEntry
	now := time.Now()
	for i := range ents {
		if fromCache[i] || len(results[i]) == 0 {
			continue
		}
		entries = append(entries, &store.PredictionEntry{
			Key:           keys[i],
			Predictions:   results[i],
			SchemaVersion: doc.Version,
			CachedAt:      now,
		})
	}
	if len(entries) > 0 {
		go func() {
			writeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			w.preds.PutMany(writeCtx, entries)
		}()
	}

	enriched := make([]postprocess.EnrichedEntity, len(ents))
	for i, e := range ents {
		enriched[i] = postprocess.Apply(e, results[i], fromCache[i])
	}
	return enriched, nil
}

func enc2mat(enc *encoder.Encoder, ents []entity.Entity, indices []int) mlruntime.Matrix {
	bags := make([]map[string]string, len(indices))
	for i, idx := range indices {
		bags[i] = ents[idx].Tags
	}
	data, rows := enc.EncodeBatch(bags)
	return mlruntime.Matrix{Data: data, Rows: rows, Cols: len(enc.Columns())}
}

// inferSubBatch runs every applicable model over one encoded sub-batch and
// fills results for the covered indices. A missing or crashing model drops
// only its own facet.
func (w *Worker) inferSubBatch(
	ctx context.Context,
	doc *schema.Document,
	enc *encoder.Encoder,
	mat mlruntime.Matrix,
	indices []int,
	modelNames []string,
	results []map[string]*predict.Prediction,
) {
	for _, idx := range indices {
		if results[idx] == nil {
			results[idx] = make(map[string]*predict.Prediction, len(modelNames))
		}
	}

	for _, name := range modelNames {
		m := doc.Models[name]
		runner, err := w.ensureModel(ctx, name)
		if err != nil {
			w.log.Warn("Worker", "facet unavailable", map[string]interface{}{
				"model": name, "error": err.Error(),
			})
			continue
		}
		out, err := runner.run(ctx, mat)
		if err != nil {
			w.log.Error("Worker", "inference failed", map[string]interface{}{
				"model": name, "rows": mat.Rows, "error": err.Error(),
			})
			continue
		}

		for row, idx := range indices {
			p, err := w.assembleRow(doc, m, out, row)
			if err != nil {
				w.log.Warn("Worker", "dropping facet for row", map[string]interface{}{
					"model": name, "error": err.Error(),
				})
				continue
			}
			p.Contributors = enc.Contributors(mat.Row(row))
			p.Metrics = m.Metrics
			results[idx][m.Attribute] = p
		}
	}
}

func (w *Worker) assembleRow(doc *schema.Document, m *schema.Model, out *mlruntime.RawOutputs, row int) (*predict.Prediction, error) {
	if m.Type == schema.TypeRegressor {
		if row >= len(out.Scalars) {
			return nil, &mlruntime.InferenceError{Model: m.Attribute, Err: errShortOutput}
		}
		return predict.FromRegressor(m.Attribute, m.OutputUnit, out.Scalars[row]), nil
	}

	var label int64 = -1
	if row < len(out.Labels) {
		label = out.Labels[row]
	}
	var probs []float32
	if row < len(out.Probabilities) {
		probs = out.Probabilities[row]
	}
	p, err := predict.FromClassifier(m.Attribute, m.ClassLabels(doc), label, probs, m.StrictProbabilities)
	if err != nil {
		return nil, &mlruntime.InferenceError{Model: m.Attribute, Err: err}
	}
	return p, nil
}

var errShortOutput = errors.New("runtime returned fewer rows than the input batch")

// markFromCache returns a copy of a cached prediction set with the cache
// marker set. The stored records themselves never mutate.
func markFromCache(preds map[string]*predict.Prediction) map[string]*predict.Prediction {
	out := make(map[string]*predict.Prediction, len(preds))
	for attr, p := range preds {
		cp := *p
		cp.FromCache = true
		out[attr] = &cp
	}
	return out
}
