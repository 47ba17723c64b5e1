package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/convorag/internal/model"
	appErr "github.com/xxxsen/convorag/internal/pkg/errors"
	"github.com/xxxsen/convorag/internal/vectorstore"
)

const (
	notFoundConversation = "I couldn't find relevant information in this conversation to answer your question."
	notFoundFolder       = "I couldn't find relevant information in the conversations in this folder to answer your question."
	notFoundGlobal       = "I couldn't find relevant information in your conversations to answer your question."
)

type QAOptions struct {
	ConversationLimit int
	FolderLimit       int
	GlobalLimit       int
	DiscoveryLimit    int
	MaxResults        int
	MaxQuestionChars  int
	Metrics           *Metrics
}

func DefaultQAOptions() QAOptions {
	return QAOptions{
		ConversationLimit: 10,
		FolderLimit:       15,
		GlobalLimit:       20,
		DiscoveryLimit:    10,
		MaxResults:        50,
		MaxQuestionChars:  2000,
	}
}

type QAService struct {
	retriever   *Retriever
	indexer     *Indexer
	synthesizer *Synthesizer
	transcripts ITranscriptStore
	folders     IFolderStore
	vectors     IVectorStore
	opts        QAOptions
}

func NewQAService(retriever *Retriever, indexer *Indexer, synthesizer *Synthesizer,
	transcripts ITranscriptStore, folders IFolderStore, vectors IVectorStore, opts QAOptions) *QAService {
	def := DefaultQAOptions()
	if opts.ConversationLimit <= 0 {
		opts.ConversationLimit = def.ConversationLimit
	}
	if opts.FolderLimit <= 0 {
		opts.FolderLimit = def.FolderLimit
	}
	if opts.GlobalLimit <= 0 {
		opts.GlobalLimit = def.GlobalLimit
	}
	if opts.DiscoveryLimit <= 0 {
		opts.DiscoveryLimit = def.DiscoveryLimit
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = def.MaxResults
	}
	if opts.MaxQuestionChars <= 0 {
		opts.MaxQuestionChars = def.MaxQuestionChars
	}
	return &QAService{
		retriever:   retriever,
		indexer:     indexer,
		synthesizer: synthesizer,
		transcripts: transcripts,
		folders:     folders,
		vectors:     vectors,
		opts:        opts,
	}
}

func (s *QAService) AskConversation(ctx context.Context, userID, transcriptID, question string, maxResults int, history []model.QAHistoryItem) (*model.Answer, error) {
	if err := s.validateQuestion(question); err != nil {
		return nil, err
	}
	limit := s.limit(maxResults, s.opts.ConversationLimit)
	hits, transcript, err := s.retriever.SearchConversation(ctx, userID, transcriptID, question, limit)
	if err != nil {
		return nil, s.fail(ctx, model.ScopeConversation, err)
	}
	return s.answer(ctx, &SynthesisRequest{
		Scope:    model.ScopeConversation,
		Question: question,
		Summary:  transcript.Summary,
		Chunks:   rankChunks(hits, limit),
		History:  history,
	})
}

func (s *QAService) AskFolder(ctx context.Context, userID, folderID, question string, maxResults int, history []model.QAHistoryItem) (*model.Answer, error) {
	if err := s.validateQuestion(question); err != nil {
		return nil, err
	}
	limit := s.limit(maxResults, s.opts.FolderLimit)
	hits, err := s.retriever.SearchFolder(ctx, userID, folderID, question, limit)
	if err != nil {
		return nil, s.fail(ctx, model.ScopeFolder, err)
	}
	return s.answer(ctx, &SynthesisRequest{
		Scope:    model.ScopeFolder,
		Question: question,
		Chunks:   rankChunks(hits, limit),
		History:  history,
	})
}

func (s *QAService) AskGlobal(ctx context.Context, userID, question string, maxResults int) (*model.Answer, error) {
	if err := s.validateQuestion(question); err != nil {
		return nil, err
	}
	limit := s.limit(maxResults, s.opts.GlobalLimit)
	hits, err := s.retriever.SearchGlobal(ctx, userID, question, limit)
	if err != nil {
		return nil, s.fail(ctx, model.ScopeGlobal, err)
	}
	return s.answer(ctx, &SynthesisRequest{
		Scope:    model.ScopeGlobal,
		Question: question,
		Chunks:   rankChunks(hits, limit),
	})
}

// answer skips the model entirely when nothing was retrieved.
func (s *QAService) answer(ctx context.Context, req *SynthesisRequest) (*model.Answer, error) {
	if len(req.Chunks) == 0 {
		s.opts.Metrics.observeQuestion(req.Scope, "no_hits")
		return &model.Answer{
			Answer:    notFoundAnswer(req.Scope),
			Citations: []model.Citation{},
			Scope:     req.Scope,
		}, nil
	}
	ans, err := s.synthesizer.Synthesize(ctx, req)
	if err != nil {
		return nil, s.fail(ctx, req.Scope, err)
	}
	s.opts.Metrics.observeQuestion(req.Scope, "answered")
	return ans, nil
}

func (s *QAService) fail(ctx context.Context, scope model.Scope, err error) error {
	s.opts.Metrics.observeQuestion(scope, "error")
	if !errors.Is(err, appErr.ErrNotFound) && !errors.Is(err, appErr.ErrInvalid) {
		logutil.GetLogger(ctx).Error("question failed", zap.String("scope", string(scope)), zap.Error(err))
	}
	return err
}

func notFoundAnswer(scope model.Scope) string {
	switch scope {
	case model.ScopeConversation:
		return notFoundConversation
	case model.ScopeFolder:
		return notFoundFolder
	default:
		return notFoundGlobal
	}
}

// FindConversations searches for whole conversations rather than answers.
// It reads the index as it is and does not index anything lazily.
func (s *QAService) FindConversations(ctx context.Context, userID, query, folderID string, maxResults int) ([]model.ConversationMatch, error) {
	if err := s.validateQuestion(query); err != nil {
		return nil, err
	}
	if folderID != "" {
		if _, err := s.folders.GetFolder(ctx, userID, folderID); err != nil {
			return nil, err
		}
	}
	limit := s.limit(maxResults, s.opts.DiscoveryLimit)
	hits, err := s.retriever.search(ctx, query, vectorstore.Filter{UserID: userID, FolderID: folderID}, limit*3)
	if err != nil {
		return nil, err
	}
	groups := GroupConversations(hits, limit)
	s.resolveFolderNames(ctx, userID, groups)
	return groups, nil
}

// resolveFolderNames leaves FolderName nil when a folder cannot be loaded.
func (s *QAService) resolveFolderNames(ctx context.Context, userID string, groups []model.ConversationMatch) {
	names := make(map[string]*string)
	for i := range groups {
		if groups[i].FolderID == nil {
			continue
		}
		fid := *groups[i].FolderID
		name, seen := names[fid]
		if !seen {
			folder, err := s.folders.GetFolder(ctx, userID, fid)
			switch {
			case err == nil:
				n := folder.Name
				name = &n
			case errors.Is(err, appErr.ErrNotFound):
				logutil.GetLogger(ctx).Debug("folder of match no longer exists", zap.String("folder_id", fid))
			default:
				logutil.GetLogger(ctx).Warn("resolve folder name failed", zap.String("folder_id", fid), zap.Error(err))
			}
			names[fid] = name
		}
		groups[i].FolderName = name
	}
}

func (s *QAService) GetIndexingStatus(ctx context.Context, userID, transcriptID string) (*model.IndexingStatus, error) {
	t, err := s.transcripts.GetTranscript(ctx, userID, transcriptID)
	if err != nil {
		return nil, err
	}
	count := s.vectors.CountByTranscriptionID(ctx, transcriptID)
	current := s.indexer.IndexVersion()
	return &model.IndexingStatus{
		TranscriptionID:      transcriptID,
		Indexed:              count > 0,
		PointCount:           count,
		VectorIndexedAt:      t.VectorIndexedAt,
		VectorChunkCount:     t.VectorChunkCount,
		VectorIndexVersion:   t.VectorIndexVersion,
		CurrentIndexVersion:  current,
		Stale:                count > 0 && t.VectorIndexVersion < current,
		VectorStoreAvailable: s.vectors.HealthCheck(ctx),
	}, nil
}

func (s *QAService) Reindex(ctx context.Context, userID, transcriptID string) (int, error) {
	return s.indexer.IndexTranscription(ctx, userID, transcriptID)
}

// DeleteVectors removes a transcript's points and clears its indexing state.
func (s *QAService) DeleteVectors(ctx context.Context, userID, transcriptID string) (int64, error) {
	if _, err := s.transcripts.GetTranscript(ctx, userID, transcriptID); err != nil {
		return 0, err
	}
	return s.indexer.PurgeTranscript(ctx, transcriptID)
}

func (s *QAService) HealthCheck(ctx context.Context) bool {
	return s.vectors.HealthCheck(ctx)
}

func (s *QAService) validateQuestion(question string) error {
	q := strings.TrimSpace(question)
	if q == "" {
		return fmt.Errorf("%w: question is required", appErr.ErrInvalid)
	}
	if utf8.RuneCountInString(q) > s.opts.MaxQuestionChars {
		return fmt.Errorf("%w: question longer than %d characters", appErr.ErrInvalid, s.opts.MaxQuestionChars)
	}
	return nil
}

func (s *QAService) limit(requested, def int) int {
	if requested <= 0 {
		requested = def
	}
	if requested > s.opts.MaxResults {
		requested = s.opts.MaxResults
	}
	return requested
}
