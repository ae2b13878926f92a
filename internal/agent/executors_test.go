// internal/agent/executors_test.go
package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newToolState() *AgentState {
	s := NewAgentState("test", LiveMode(), false)
	s.BBoxes = testBoxes()
	return s
}

func TestToolFor(t *testing.T) {
	e, _ := testExecutor(t)
	for _, kind := range AllActions {
		tool, ok := e.ToolFor(kind)
		switch kind {
		case ActionAnswer, ActionRetry, ActionHuman:
			assert.False(t, ok, "%s must not have a tool", kind)
			assert.Nil(t, tool)
		default:
			assert.True(t, ok, "%s must have a tool", kind)
			assert.NotNil(t, tool)
		}
	}
}

func TestExecutor_Click(t *testing.T) {
	ctx := context.Background()

	t.Run("missing id is an error observation", func(t *testing.T) {
		e, _ := testExecutor(t)
		driver := new(mockDriver)
		obs := e.Dispatch(ctx, newToolState(), driver, pred(ActionClick, "42"))

		assert.Equal(t, StatusError, obs.Status)
		assert.Equal(t, ErrCodeElementNotFound, obs.Code)
		assert.Contains(t, obs.Details, "[ELEMENT_NOT_FOUND]")
		assert.Contains(t, obs.Details, "42")
		assert.Equal(t, "CLICK", obs.Action)
		assert.Equal(t, []string{"42"}, obs.Args)
		driver.AssertNotCalled(t, "Click", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("wrong arity", func(t *testing.T) {
		e, _ := testExecutor(t)
		obs := e.Dispatch(ctx, newToolState(), new(mockDriver), pred(ActionClick))
		assert.Equal(t, ErrCodeArgument, obs.Code)
		assert.Contains(t, obs.Details, "expected 1 argument(s)")
	})

	t.Run("click without navigation", func(t *testing.T) {
		e, slept := testExecutor(t)
		driver := new(mockDriver)
		driver.On("WatchNavigation", mock.Anything, time.Second).Return(false, nil).Once()
		driver.On("Click", mock.Anything, 110.0, 220.0).Return(nil).Once()

		state := newToolState()
		obs := e.Dispatch(ctx, state, driver, pred(ActionClick, "3"))

		assert.Equal(t, StatusSuccess, obs.Status)
		assert.Equal(t, "Clicked element 3 (button: 'Search')", obs.Details)
		assert.Len(t, state.BBoxes, 3)
		assert.Equal(t, []time.Duration{time.Second}, *slept)
		driver.AssertExpectations(t)
	})

	t.Run("click that navigates clears boxes", func(t *testing.T) {
		e, _ := testExecutor(t)
		driver := new(mockDriver)
		driver.On("WatchNavigation", mock.Anything, time.Second).Return(true, nil).Once()
		driver.On("Click", mock.Anything, 10.0, 20.0).Return(nil).Once()

		state := newToolState()
		obs := e.Dispatch(ctx, state, driver, pred(ActionClick, " 0 "))

		assert.Equal(t, "Clicked element 0 (a: 'Home') and navigated to new page", obs.Details)
		assert.Empty(t, state.BBoxes)
	})

	t.Run("long text is truncated", func(t *testing.T) {
		e, _ := testExecutor(t)
		driver := new(mockDriver)
		driver.On("WatchNavigation", mock.Anything, time.Second).Return(false, nil)
		driver.On("Click", mock.Anything, mock.Anything, mock.Anything).Return(nil)

		state := newToolState()
		state.BBoxes[0].Text = "abcdefghijklmnopqrstuvwxyz0123456789"
		obs := e.Dispatch(ctx, state, driver, pred(ActionClick, "0"))
		assert.Equal(t, "Clicked element 0 (a: 'abcdefghijklmnopqrstuvwxyz0123...')", obs.Details)
	})

	t.Run("driver failure is classified", func(t *testing.T) {
		e, _ := testExecutor(t)
		driver := new(mockDriver)
		driver.On("WatchNavigation", mock.Anything, time.Second).Return(false, nil)
		driver.On("Click", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("operation timed out"))

		obs := e.Dispatch(ctx, newToolState(), driver, pred(ActionClick, "3"))
		assert.Equal(t, StatusError, obs.Status)
		assert.Equal(t, ErrCodeTimeout, obs.Code)
	})
}

func TestExecutor_Type(t *testing.T) {
	ctx := context.Background()

	t.Run("clears and types", func(t *testing.T) {
		e, _ := testExecutor(t)
		driver := new(mockDriver)
		driver.On("WatchNavigation", mock.Anything, time.Second).Return(false, nil).Once()
		driver.On("Click", mock.Anything, 300.0, 40.0).Return(nil).Once()
		driver.On("Press", mock.Anything, "Control+A").Return(nil).Once()
		driver.On("Press", mock.Anything, "Backspace").Return(nil).Once()
		driver.On("Type", mock.Anything, "hello").Return(nil).Once()

		obs := e.Dispatch(ctx, newToolState(), driver, pred(ActionType, "4", "hello"))

		assert.Equal(t, StatusSuccess, obs.Status)
		assert.Equal(t, "Text 'hello' entered in element 4 (textarea)", obs.Details)
		driver.AssertExpectations(t)
		driver.AssertNotCalled(t, "Press", mock.Anything, "Enter")
	})

	t.Run("newline submits", func(t *testing.T) {
		e, _ := testExecutor(t)
		driver := new(mockDriver)
		driver.On("WatchNavigation", mock.Anything, time.Second).Return(true, nil).Once()
		driver.On("Click", mock.Anything, 300.0, 40.0).Return(nil).Once()
		driver.On("Press", mock.Anything, mock.Anything).Return(nil)
		driver.On("Type", mock.Anything, "weather in oslo tomorrow").Return(nil).Once()

		state := newToolState()
		obs := e.Dispatch(ctx, state, driver, pred(ActionType, "4", "weather in oslo tomorrow\n"))

		assert.Equal(t, "Text 'weather in oslo...' entered in element 4 (textarea) and navigated to new page", obs.Details)
		assert.Empty(t, state.BBoxes)
		driver.AssertCalled(t, "Press", mock.Anything, "Enter")
	})

	t.Run("missing id", func(t *testing.T) {
		e, _ := testExecutor(t)
		obs := e.Dispatch(ctx, newToolState(), new(mockDriver), pred(ActionType, "9", "x"))
		assert.Equal(t, ErrCodeElementNotFound, obs.Code)
	})

	t.Run("wrong arity", func(t *testing.T) {
		e, _ := testExecutor(t)
		obs := e.Dispatch(ctx, newToolState(), new(mockDriver), pred(ActionType, "4"))
		assert.Equal(t, ErrCodeArgument, obs.Code)
	})
}

func TestExecutor_Scroll(t *testing.T) {
	ctx := context.Background()

	t.Run("window", func(t *testing.T) {
		e, _ := testExecutor(t)
		driver := new(mockDriver)
		driver.On("ScrollWindow", mock.Anything, 500).Return(nil).Once()
		obs := e.Dispatch(ctx, newToolState(), driver, pred(ActionScroll, "WINDOW", "down"))
		assert.Equal(t, "Window scrolled down", obs.Details)
		driver.AssertExpectations(t)
	})

	t.Run("element", func(t *testing.T) {
		e, _ := testExecutor(t)
		driver := new(mockDriver)
		driver.On("WheelAt", mock.Anything, 110.0, 220.0, -200).Return(nil).Once()
		obs := e.Dispatch(ctx, newToolState(), driver, pred(ActionScroll, "3", "UP"))
		assert.Equal(t, "Element 3 (button) scrolled up", obs.Details)
		driver.AssertExpectations(t)
	})

	testCases := []struct {
		name string
		args []string
		code ErrorCode
	}{
		{"InvalidTarget", []string{"footer", "down"}, ErrCodeArgument},
		{"InvalidDirection", []string{"WINDOW", "left"}, ErrCodeArgument},
		{"UnknownID", []string{"77", "down"}, ErrCodeElementNotFound},
		{"MissingDirection", []string{"WINDOW"}, ErrCodeArgument},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e, _ := testExecutor(t)
			obs := e.Dispatch(ctx, newToolState(), new(mockDriver), pred(ActionScroll, tc.args...))
			assert.Equal(t, StatusError, obs.Status)
			assert.Equal(t, tc.code, obs.Code)
		})
	}
}

func TestExecutor_ZeroArgTools(t *testing.T) {
	ctx := context.Background()

	t.Run("wait", func(t *testing.T) {
		e, slept := testExecutor(t)
		obs := e.Dispatch(ctx, newToolState(), new(mockDriver), pred(ActionWait, ""))
		assert.Equal(t, "Waited for 2s", obs.Details)
		assert.Equal(t, []time.Duration{2 * time.Second}, *slept)
	})

	t.Run("goback", func(t *testing.T) {
		e, _ := testExecutor(t)
		driver := new(mockDriver)
		driver.On("GoBack", mock.Anything).Return(nil).Once()
		driver.On("CurrentURL", mock.Anything).Return("https://example.com/a", nil).Once()

		state := newToolState()
		obs := e.Dispatch(ctx, state, driver, pred(ActionGoBack))
		assert.Equal(t, "Navigated back to https://example.com/a", obs.Details)
		assert.Empty(t, state.BBoxes)
	})

	t.Run("goback failure", func(t *testing.T) {
		e, _ := testExecutor(t)
		driver := new(mockDriver)
		driver.On("GoBack", mock.Anything).Return(errors.New("no history")).Once()
		obs := e.Dispatch(ctx, newToolState(), driver, pred(ActionGoBack))
		assert.Equal(t, ErrCodeNavigation, obs.Code)
	})

	t.Run("google", func(t *testing.T) {
		e, _ := testExecutor(t)
		driver := new(mockDriver)
		driver.On("Goto", mock.Anything, "https://www.google.com/").Return(nil).Once()
		state := newToolState()
		obs := e.Dispatch(ctx, state, driver, pred(ActionGoogle))
		assert.Equal(t, "Navigated to Google homepage", obs.Details)
		assert.Empty(t, state.BBoxes)
	})
}

func TestExecutor_Navigate(t *testing.T) {
	ctx := context.Background()

	t.Run("adds scheme and clears boxes", func(t *testing.T) {
		e, slept := testExecutor(t)
		driver := new(mockDriver)
		driver.On("Goto", mock.Anything, "https://example.com").Return(nil).Once()

		state := newToolState()
		obs := e.Dispatch(ctx, state, driver, pred(ActionNavigate, "example.com"))

		assert.Equal(t, StatusSuccess, obs.Status)
		assert.Equal(t, "Successfully navigated to https://example.com", obs.Details)
		assert.Empty(t, state.BBoxes)
		assert.Equal(t, []time.Duration{2 * time.Second}, *slept)
	})

	t.Run("timeout", func(t *testing.T) {
		e, _ := testExecutor(t)
		driver := new(mockDriver)
		driver.On("Goto", mock.Anything, "http://slow.test").Return(context.DeadlineExceeded).Once()
		obs := e.Dispatch(ctx, newToolState(), driver, pred(ActionNavigate, "http://slow.test"))
		assert.Equal(t, ErrCodeTimeout, obs.Code)
		assert.Contains(t, obs.Details, "navigation to http://slow.test failed")
	})

	t.Run("empty url", func(t *testing.T) {
		e, _ := testExecutor(t)
		obs := e.Dispatch(ctx, newToolState(), new(mockDriver), pred(ActionNavigate, "  "))
		assert.Equal(t, ErrCodeArgument, obs.Code)
	})
}

func TestNormalizeURL(t *testing.T) {
	testCases := map[string]string{
		"example.com":          "https://example.com",
		" example.com/path ":   "https://example.com/path",
		"http://example.com":   "http://example.com",
		"HTTPS://example.com":  "HTTPS://example.com",
		"www.finn.no/bil/used": "https://www.finn.no/bil/used",
		"httpbin.org/get":      "https://httpbin.org/get",
		"httpie.io":            "https://httpie.io",
	}
	for in, want := range testCases {
		assert.Equal(t, want, NormalizeURL(in), in)
	}
}

func TestExecutor_RecoversFromPanic(t *testing.T) {
	e, _ := testExecutor(t)
	driver := new(mockDriver)
	driver.On("ScrollWindow", mock.Anything, -500).Run(func(mock.Arguments) {
		panic("boom")
	})

	var obs Observation
	require.NotPanics(t, func() {
		obs = e.Dispatch(context.Background(), newToolState(), driver, pred(ActionScroll, "window", "up"))
	})
	assert.Equal(t, StatusError, obs.Status)
	assert.Equal(t, ErrCodeExecutorPanic, obs.Code)
	assert.Contains(t, obs.Details, "boom")
}

func TestExecutor_RejectsNonTools(t *testing.T) {
	e, _ := testExecutor(t)
	obs := e.Dispatch(context.Background(), newToolState(), new(mockDriver), pred(ActionAnswer, "done"))
	assert.Equal(t, StatusError, obs.Status)
	assert.Equal(t, ErrCodeArgument, obs.Code)
}

func TestSelectAllCombo(t *testing.T) {
	assert.Equal(t, "Meta+A", selectAllCombo("darwin"))
	assert.Equal(t, "Control+A", selectAllCombo("linux"))
	assert.Equal(t, "Control+A", selectAllCombo("windows"))
}
