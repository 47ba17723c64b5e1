package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/convorag/internal/model"
	appErr "github.com/xxxsen/convorag/internal/pkg/errors"
)

func segmentTexts(segments []model.SpeakerSegment) map[string]bool {
	out := map[string]bool{}
	for _, s := range segments {
		out[s.Text] = true
	}
	return out
}

func TestAskConversation_CitesRetrievedChunks(t *testing.T) {
	f := newFixture(t, 1)
	f.store.addTranscript(model.Transcript{ID: "t1", UserID: "u1", Title: "Budget review", Summary: "Budget approved."}, budgetMeeting...)
	ctx := context.Background()

	ans, err := f.qa.AskConversation(ctx, "u1", "t1", "Was the budget approved?", 0, []model.QAHistoryItem{
		{Question: "Who attended?", Answer: "Alice, Bob and Carol."},
	})
	require.NoError(t, err)
	require.Equal(t, model.ScopeConversation, ans.Scope)
	require.Equal(t, "The budget was approved.", ans.Answer)
	require.NotEmpty(t, ans.Citations)
	known := segmentTexts(budgetMeeting)
	for _, c := range ans.Citations {
		require.Equal(t, "t1", c.TranscriptionID)
		require.True(t, known[c.Text], "citation %q is not a retrieved chunk", c.Text)
	}
	var approved *model.Citation
	for i := range ans.Citations {
		if ans.Citations[i].Speaker == "Bob" {
			approved = &ans.Citations[i]
		}
	}
	require.NotNil(t, approved)
	require.Equal(t, "0:12", approved.Timestamp)
	require.EqualValues(t, 12, approved.TimestampSeconds)

	require.Equal(t, 1, f.generator.calls)
	require.Equal(t, 0.2, f.generator.opts.Temperature)
	require.Contains(t, f.generator.prompt, "Conversation summary:\nBudget approved.")
	require.Contains(t, f.generator.prompt, "Q: Who attended?")
	require.True(t, strings.HasSuffix(f.generator.prompt, "Question: Was the budget approved?"))
	require.Positive(t, ans.Usage.PromptTokens)
	require.Positive(t, ans.Usage.EstimatedCost)
}

func TestAskConversation_ZeroHitsSkipsModel(t *testing.T) {
	f := newFixture(t, 1)
	f.store.addTranscript(model.Transcript{ID: "t1", UserID: "u1", Title: "Silent"})

	ans, err := f.qa.AskConversation(context.Background(), "u1", "t1", "Was the budget approved?", 5, nil)
	require.NoError(t, err)
	require.Equal(t, notFoundConversation, ans.Answer)
	require.Empty(t, ans.Citations)
	require.NotNil(t, ans.Citations)
	require.Zero(t, f.generator.calls)
}

func TestAskConversation_OwnershipAndValidation(t *testing.T) {
	f := newFixture(t, 1)
	f.store.addTranscript(model.Transcript{ID: "t1", UserID: "u1"}, budgetMeeting...)
	ctx := context.Background()

	_, err := f.qa.AskConversation(ctx, "u2", "t1", "budget?", 0, nil)
	require.ErrorIs(t, err, appErr.ErrNotFound)
	_, err = f.qa.AskConversation(ctx, "u1", "t1", "   ", 0, nil)
	require.ErrorIs(t, err, appErr.ErrInvalid)
	_, err = f.qa.AskConversation(ctx, "u1", "t1", strings.Repeat("a", 2001), 0, nil)
	require.ErrorIs(t, err, appErr.ErrInvalid)
	require.Zero(t, f.embedder.calls())
}

func TestAskConversation_GeneratorFailure(t *testing.T) {
	f := newFixture(t, 1)
	f.store.addTranscript(model.Transcript{ID: "t1", UserID: "u1"}, budgetMeeting...)
	boom := errors.New("model overloaded")
	f.generator.failErr = boom

	_, err := f.qa.AskConversation(context.Background(), "u1", "t1", "Was the budget approved?", 0, nil)
	require.ErrorIs(t, err, boom)
}

func TestAskFolder_IndexesFolderTranscripts(t *testing.T) {
	for _, workers := range []int{1, 3} {
		f := newFixture(t, workers)
		f.store.addFolder(model.Folder{ID: "f1", UserID: "u1", Name: "Finance"})
		f.store.addTranscript(model.Transcript{ID: "a", UserID: "u1", FolderID: "f1"}, budgetMeeting...)
		f.store.addTranscript(model.Transcript{ID: "b", UserID: "u1", FolderID: "f1"}, budgetMeeting[1])
		f.store.addTranscript(model.Transcript{ID: "c", UserID: "u1", FolderID: "f1"}, budgetMeeting[2])
		f.store.addTranscript(model.Transcript{ID: "other", UserID: "u1", FolderID: "f2"}, budgetMeeting...)
		ctx := context.Background()

		ans, err := f.qa.AskFolder(ctx, "u1", "f1", "Was the budget approved?", 0, nil)
		require.NoError(t, err)
		require.Equal(t, model.ScopeFolder, ans.Scope)
		for _, id := range []string{"a", "b", "c"} {
			require.True(t, f.indexer.IsIndexed(ctx, id), "workers=%d id=%s", workers, id)
		}
		require.False(t, f.indexer.IsIndexed(ctx, "other"))
		for _, c := range ans.Citations {
			require.NotEqual(t, "other", c.TranscriptionID)
		}
		require.NotContains(t, f.generator.prompt, "Conversation summary:")
	}
}

func TestAskFolder_FolderNotOwned(t *testing.T) {
	f := newFixture(t, 1)
	f.store.addFolder(model.Folder{ID: "f1", UserID: "u1", Name: "Finance"})

	_, err := f.qa.AskFolder(context.Background(), "u2", "f1", "budget?", 0, nil)
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestAskGlobal_TenantIsolation(t *testing.T) {
	f := newFixture(t, 1)
	f.store.addTranscript(model.Transcript{ID: "mine", UserID: "u1"}, budgetMeeting...)
	f.store.addTranscript(model.Transcript{ID: "theirs", UserID: "u2"}, budgetMeeting...)
	ctx := context.Background()
	for _, tc := range []struct{ user, id string }{{"u1", "mine"}, {"u2", "theirs"}} {
		_, err := f.qa.Reindex(ctx, tc.user, tc.id)
		require.NoError(t, err)
	}

	ans, err := f.qa.AskGlobal(ctx, "u2", "Was the budget approved?", 0)
	require.NoError(t, err)
	require.NotEmpty(t, ans.Citations)
	for _, c := range ans.Citations {
		require.Equal(t, "theirs", c.TranscriptionID)
	}

	ans, err = f.qa.AskGlobal(ctx, "nobody", "Was the budget approved?", 0)
	require.NoError(t, err)
	require.Equal(t, notFoundGlobal, ans.Answer)
}

func TestFindConversations_GroupsAndResolvesFolders(t *testing.T) {
	f := newFixture(t, 1)
	f.store.addFolder(model.Folder{ID: "f1", UserID: "u1", Name: "Finance"})
	f.store.addTranscript(model.Transcript{ID: "t1", UserID: "u1", FolderID: "f1", Title: "Budget review"}, budgetMeeting...)
	f.store.addTranscript(model.Transcript{ID: "t2", UserID: "u1", FolderID: "deleted", Title: "Budget follow-up"}, budgetMeeting[1])
	ctx := context.Background()
	for _, id := range []string{"t1", "t2"} {
		_, err := f.qa.Reindex(ctx, "u1", id)
		require.NoError(t, err)
	}

	matches, err := f.qa.FindConversations(ctx, "u1", "budget approved", "", 0)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	byID := map[string]model.ConversationMatch{}
	for _, m := range matches {
		byID[m.TranscriptionID] = m
		require.LessOrEqual(t, len(m.MatchedSnippets), 3)
	}
	require.NotNil(t, byID["t1"].FolderName)
	require.Equal(t, "Finance", *byID["t1"].FolderName)
	require.Nil(t, byID["t2"].FolderName)
	require.Equal(t, "deleted", *byID["t2"].FolderID)

	matches, err = f.qa.FindConversations(ctx, "u1", "budget approved", "f1", 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "t1", matches[0].TranscriptionID)

	_, err = f.qa.FindConversations(ctx, "u1", "budget", "missing", 0)
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestIndexingStatusAndDeleteVectors(t *testing.T) {
	f := newFixture(t, 1)
	f.store.addTranscript(model.Transcript{ID: "t1", UserID: "u1"}, budgetMeeting...)
	ctx := context.Background()

	st, err := f.qa.GetIndexingStatus(ctx, "u1", "t1")
	require.NoError(t, err)
	require.False(t, st.Indexed)
	require.True(t, st.VectorStoreAvailable)
	require.Equal(t, 2, st.CurrentIndexVersion)

	n, err := f.qa.Reindex(ctx, "u1", "t1")
	require.NoError(t, err)
	st, err = f.qa.GetIndexingStatus(ctx, "u1", "t1")
	require.NoError(t, err)
	require.True(t, st.Indexed)
	require.EqualValues(t, n, st.PointCount)
	require.Equal(t, n, st.VectorChunkCount)
	require.False(t, st.Stale)

	require.NoError(t, f.store.UpdateIndexingState(ctx, "t1", model.IndexingState{VectorIndexedAt: 1, VectorChunkCount: n, VectorIndexVersion: 1}))
	st, err = f.qa.GetIndexingStatus(ctx, "u1", "t1")
	require.NoError(t, err)
	require.True(t, st.Stale)

	_, err = f.qa.DeleteVectors(ctx, "u2", "t1")
	require.ErrorIs(t, err, appErr.ErrNotFound)
	deleted, err := f.qa.DeleteVectors(ctx, "u1", "t1")
	require.NoError(t, err)
	require.EqualValues(t, n, deleted)
	require.Zero(t, f.vectors.CountByTranscriptionID(ctx, "t1"))
	require.Equal(t, model.IndexingState{}, f.store.state("t1"))
}

func TestLimitDefaultsAndCap(t *testing.T) {
	f := newFixture(t, 1)
	require.Equal(t, 10, f.qa.limit(0, 10))
	require.Equal(t, 7, f.qa.limit(7, 10))
	require.Equal(t, 50, f.qa.limit(500, 10))
}
