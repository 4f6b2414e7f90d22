package probe_test

import (
	"encoding/json"
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/odvcencio/meetprobe/pkg/browser"
	"github.com/odvcencio/meetprobe/pkg/browser/mocks"
	"github.com/odvcencio/meetprobe/pkg/probe"
)

type staticSource struct {
	sess browser.RemoteSession
}

func (s staticSource) Active() (browser.RemoteSession, bool) {
	return s.sess, s.sess != nil
}

func newExecutor(t *testing.T) (*probe.Executor, *mocks.MockRemoteSession) {
	t.Helper()
	ctrl := gomock.NewController(t)
	sess := mocks.NewMockRemoteSession(ctrl)
	sess.EXPECT().ID().Return("sess-1").AnyTimes()
	return probe.NewExecutor(staticSource{sess: sess}, nil, nil), sess
}

func raw(s string) json.RawMessage {
	return json.RawMessage(s)
}

func gomockAny() gomock.Matcher {
	return gomock.Any()
}
