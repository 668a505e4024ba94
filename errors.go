// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bacnet

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the public API.
var (
	ErrTimeout                  = errors.New("bacnet: request timeout")
	ErrConnectionClosed         = errors.New("bacnet: connection closed")
	ErrInvalidResponse          = errors.New("bacnet: invalid response")
	ErrInvalidAPDU              = errors.New("bacnet: invalid APDU")
	ErrInvalidNPDU              = errors.New("bacnet: invalid NPDU")
	ErrInvalidBVLC              = errors.New("bacnet: invalid BVLC header")
	ErrSegmentationNotSupported = errors.New("bacnet: segmentation not supported")
	ErrDeviceNotFound           = errors.New("bacnet: device not found")
	ErrPropertyNotFound         = errors.New("bacnet: property not found")
	ErrWriteFailed              = errors.New("bacnet: write failed")
	ErrNotConnected             = errors.New("bacnet: not connected")
	ErrAlreadyConnected         = errors.New("bacnet: already connected")
	ErrShutdown                 = errors.New("bacnet: device is shutting down")
	ErrNoRouteToNetwork         = errors.New("bacnet: no route to network")
	ErrTSMExhausted             = errors.New("bacnet: no free invoke IDs")
)

// ErrorClass is the top-level category of a BACnet Error-PDU.
type ErrorClass uint8

const (
	ErrorClassDevice        ErrorClass = 0
	ErrorClassObject        ErrorClass = 1
	ErrorClassProperty      ErrorClass = 2
	ErrorClassResources     ErrorClass = 3
	ErrorClassSecurity      ErrorClass = 4
	ErrorClassServices      ErrorClass = 5
	ErrorClassVT            ErrorClass = 6
	ErrorClassCommunication ErrorClass = 7
)

func (e ErrorClass) String() string {
	names := map[ErrorClass]string{
		ErrorClassDevice: "device", ErrorClassObject: "object", ErrorClassProperty: "property",
		ErrorClassResources: "resources", ErrorClassSecurity: "security", ErrorClassServices: "services",
		ErrorClassVT: "vt", ErrorClassCommunication: "communication",
	}
	if name, ok := names[e]; ok {
		return name
	}
	return fmt.Sprintf("error-class(%d)", e)
}

// ErrorCode is the specific reason carried by a BACnet Error-PDU.
type ErrorCode uint8

const (
	ErrorCodeOther                          ErrorCode = 0
	ErrorCodeAuthenticationFailed           ErrorCode = 1
	ErrorCodeConfigurationInProgress        ErrorCode = 2
	ErrorCodeDeviceBusy                     ErrorCode = 3
	ErrorCodeDynamicCreationNotSupported    ErrorCode = 4
	ErrorCodeFileAccessDenied               ErrorCode = 5
	ErrorCodeIncompatibleSecurityLevels     ErrorCode = 6
	ErrorCodeInconsistentParameters         ErrorCode = 7
	ErrorCodeInconsistentSelectionCriterion ErrorCode = 8
	ErrorCodeInvalidDataType                ErrorCode = 9
	ErrorCodeInvalidFileAccessMethod        ErrorCode = 10
	ErrorCodeInvalidFileStartPosition       ErrorCode = 11
	ErrorCodeInvalidOperatorName            ErrorCode = 12
	ErrorCodeInvalidParameterDataType       ErrorCode = 13
	ErrorCodeInvalidTimeStamp               ErrorCode = 14
	ErrorCodeKeyGenerationError             ErrorCode = 15
	ErrorCodeMissingRequiredParameter       ErrorCode = 16
	ErrorCodeNoObjectsOfSpecifiedType       ErrorCode = 17
	ErrorCodeNoSpaceForObject               ErrorCode = 18
	ErrorCodeNoSpaceToAddListElement        ErrorCode = 19
	ErrorCodeNoSpaceToWriteProperty         ErrorCode = 20
	ErrorCodeNotConfiguredForTriggeredLogging ErrorCode = 21
	ErrorCodePropertyIsNotAList             ErrorCode = 22
	ErrorCodeObjectDeletionNotPermitted     ErrorCode = 23
	ErrorCodeObjectIdentifierAlreadyExists  ErrorCode = 24
	ErrorCodePasswordFailure                ErrorCode = 26
	ErrorCodeReadAccessDenied               ErrorCode = 27
	ErrorCodeSecurityNotSupported           ErrorCode = 28
	ErrorCodeServiceRequestDenied           ErrorCode = 29
	ErrorCodeUnknownObject                  ErrorCode = 31
	ErrorCodeUnknownProperty                ErrorCode = 32
	ErrorCodeUnknownSubscription            ErrorCode = 33
	ErrorCodeUnknownVtClass                 ErrorCode = 34
	ErrorCodeUnknownVtSession               ErrorCode = 35
	ErrorCodeValueOutOfRange                ErrorCode = 37
	ErrorCodeWriteAccessDenied              ErrorCode = 40
	ErrorCodeCharacterSetNotSupported       ErrorCode = 41
	ErrorCodeInvalidArrayIndex              ErrorCode = 42
	ErrorCodeCovSubscriptionFailed          ErrorCode = 43
	ErrorCodeNotCovProperty                 ErrorCode = 44
	ErrorCodeOptionalFunctionalityNotSupported ErrorCode = 45
	ErrorCodeInvalidConfigurationData       ErrorCode = 46
	ErrorCodeDatatypeNotSupported           ErrorCode = 47
	ErrorCodeDuplicateName                  ErrorCode = 48
	ErrorCodeDuplicateObjectId              ErrorCode = 49
	ErrorCodePropertyIsNotAnArray           ErrorCode = 50
	ErrorCodeNoAlarmsOfSpecifiedType        ErrorCode = 51
	ErrorCodeListItemNotNumbered            ErrorCode = 123

	ErrorCodeAbortBufferOverflow                ErrorCode = 151
	ErrorCodeAbortInvalidApduInThisState        ErrorCode = 152
	ErrorCodeAbortPreemptedByHigherPriorityTask ErrorCode = 153
	ErrorCodeAbortSegmentationNotSupported      ErrorCode = 154
	ErrorCodeAbortApduTooLong                   ErrorCode = 155
	ErrorCodeAbortApplicationExceededReplyTime  ErrorCode = 156
	ErrorCodeAbortOutOfResources                ErrorCode = 157
	ErrorCodeAbortTsmTimeout                    ErrorCode = 158
	ErrorCodeAbortWindowSizeOutOfRange          ErrorCode = 159
	ErrorCodeAbortProprietary                   ErrorCode = 160
	ErrorCodeAbortOther                         ErrorCode = 161

	ErrorCodeInvalidTag                     ErrorCode = 170
	ErrorCodeNetworkDown                    ErrorCode = 171
	ErrorCodeRejectBufferOverflow           ErrorCode = 172
	ErrorCodeRejectInconsistentParameters   ErrorCode = 173
	ErrorCodeRejectInvalidParameterDataType ErrorCode = 174
	ErrorCodeRejectInvalidTag               ErrorCode = 175
	ErrorCodeRejectMissingRequiredParameter ErrorCode = 176
	ErrorCodeRejectParameterOutOfRange      ErrorCode = 177
	ErrorCodeRejectTooManyArguments         ErrorCode = 178
	ErrorCodeRejectUndefinedEnumeration     ErrorCode = 179
	ErrorCodeRejectUnrecognizedService      ErrorCode = 180
	ErrorCodeRejectProprietary              ErrorCode = 181
	ErrorCodeRejectOther                    ErrorCode = 182
	ErrorCodeUnknownDevice                  ErrorCode = 183
	ErrorCodeUnknownRoute                   ErrorCode = 184
	ErrorCodeValueTooLong                   ErrorCode = 185
)

var errorCodeNames = map[ErrorCode]string{
	ErrorCodeOther:                         "other",
	ErrorCodeConfigurationInProgress:       "configuration-in-progress",
	ErrorCodeDeviceBusy:                    "device-busy",
	ErrorCodeDynamicCreationNotSupported:   "dynamic-creation-not-supported",
	ErrorCodeNoObjectsOfSpecifiedType:      "no-objects-of-specified-type",
	ErrorCodeObjectDeletionNotPermitted:    "object-deletion-not-permitted",
	ErrorCodeObjectIdentifierAlreadyExists: "object-identifier-already-exists",
	ErrorCodeUnknownObject:                 "unknown-object",
	ErrorCodeCharacterSetNotSupported:      "character-set-not-supported",
	ErrorCodeDatatypeNotSupported:          "datatype-not-supported",
	ErrorCodeInconsistentParameters:        "inconsistent-parameters",
	ErrorCodeInvalidArrayIndex:             "invalid-array-index",
	ErrorCodeInvalidDataType:               "invalid-data-type",
	ErrorCodeNotCovProperty:                "not-cov-property",
	ErrorCodeOptionalFunctionalityNotSupported: "optional-functionality-not-supported",
	ErrorCodePropertyIsNotAList:            "property-is-not-a-list",
	ErrorCodePropertyIsNotAnArray:          "property-is-not-an-array",
	ErrorCodeReadAccessDenied:              "read-access-denied",
	ErrorCodeUnknownProperty:               "unknown-property",
	ErrorCodeValueOutOfRange:               "value-out-of-range",
	ErrorCodeWriteAccessDenied:             "write-access-denied",
	ErrorCodeNoSpaceForObject:              "no-space-for-object",
	ErrorCodeNoSpaceToAddListElement:       "no-space-to-add-list-element",
	ErrorCodeNoSpaceToWriteProperty:        "no-space-to-write-property",
	ErrorCodeAuthenticationFailed:          "authentication-failed",
	ErrorCodePasswordFailure:               "password-failure",
	ErrorCodeSecurityNotSupported:          "security-not-supported",
	ErrorCodeServiceRequestDenied:          "service-request-denied",
	ErrorCodeUnknownDevice:                 "unknown-device",
	ErrorCodeUnknownRoute:                  "unknown-route",
	ErrorCodeUnknownSubscription:           "unknown-subscription",
	ErrorCodeCovSubscriptionFailed:         "cov-subscription-failed",
	ErrorCodeDuplicateObjectId:             "duplicate-object-id",
	ErrorCodeDuplicateName:                 "duplicate-name",
}

func (e ErrorCode) String() string {
	if name, ok := errorCodeNames[e]; ok {
		return name
	}
	return fmt.Sprintf("error-code(%d)", e)
}

// BACnetError is a decoded Error-PDU: a (class, code) pair.
type BACnetError struct {
	Class ErrorClass
	Code  ErrorCode
}

func (e *BACnetError) Error() string {
	return fmt.Sprintf("bacnet error: class=%s, code=%s", e.Class, e.Code)
}

func (e *BACnetError) Is(target error) bool {
	t, ok := target.(*BACnetError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewBACnetError builds a BACnetError for the given class/code pair.
func NewBACnetError(class ErrorClass, code ErrorCode) *BACnetError {
	return &BACnetError{Class: class, Code: code}
}

// RejectReason is the reason code of a Reject-PDU.
type RejectReason uint8

const (
	RejectReasonOther                    RejectReason = 0
	RejectReasonBufferOverflow           RejectReason = 1
	RejectReasonInconsistentParameters   RejectReason = 2
	RejectReasonInvalidParameterDataType RejectReason = 3
	RejectReasonInvalidTag               RejectReason = 4
	RejectReasonMissingRequiredParameter RejectReason = 5
	RejectReasonParameterOutOfRange      RejectReason = 6
	RejectReasonTooManyArguments         RejectReason = 7
	RejectReasonUndefinedEnumeration     RejectReason = 8
	RejectReasonUnrecognizedService      RejectReason = 9
)

func (r RejectReason) String() string {
	names := map[RejectReason]string{
		RejectReasonOther: "other", RejectReasonBufferOverflow: "buffer-overflow",
		RejectReasonInconsistentParameters: "inconsistent-parameters",
		RejectReasonInvalidParameterDataType: "invalid-parameter-data-type",
		RejectReasonInvalidTag: "invalid-tag", RejectReasonMissingRequiredParameter: "missing-required-parameter",
		RejectReasonParameterOutOfRange: "parameter-out-of-range", RejectReasonTooManyArguments: "too-many-arguments",
		RejectReasonUndefinedEnumeration: "undefined-enumeration", RejectReasonUnrecognizedService: "unrecognized-service",
	}
	if name, ok := names[r]; ok {
		return name
	}
	return fmt.Sprintf("reject-reason(%d)", r)
}

// RejectError is a decoded Reject-PDU.
type RejectError struct {
	InvokeID uint8
	Reason   RejectReason
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("bacnet reject: invoke-id=%d, reason=%s", e.InvokeID, e.Reason)
}

// AbortReason is the reason code of an Abort-PDU.
type AbortReason uint8

const (
	AbortReasonOther                         AbortReason = 0
	AbortReasonBufferOverflow                AbortReason = 1
	AbortReasonInvalidApduInThisState        AbortReason = 2
	AbortReasonPreemptedByHigherPriorityTask AbortReason = 3
	AbortReasonSegmentationNotSupported      AbortReason = 4
	AbortReasonSecurityError                 AbortReason = 5
	AbortReasonInsufficientSecurity          AbortReason = 6
	AbortReasonWindowSizeOutOfRange          AbortReason = 7
	AbortReasonApplicationExceededReplyTime  AbortReason = 8
	AbortReasonOutOfResources                AbortReason = 9
	AbortReasonTsmTimeout                    AbortReason = 10
	AbortReasonApduTooLong                   AbortReason = 11
)

func (a AbortReason) String() string {
	names := map[AbortReason]string{
		AbortReasonOther: "other", AbortReasonBufferOverflow: "buffer-overflow",
		AbortReasonInvalidApduInThisState: "invalid-apdu-in-this-state",
		AbortReasonPreemptedByHigherPriorityTask: "preempted-by-higher-priority-task",
		AbortReasonSegmentationNotSupported: "segmentation-not-supported",
		AbortReasonSecurityError: "security-error", AbortReasonInsufficientSecurity: "insufficient-security",
		AbortReasonWindowSizeOutOfRange: "window-size-out-of-range",
		AbortReasonApplicationExceededReplyTime: "application-exceeded-reply-time",
		AbortReasonOutOfResources: "out-of-resources", AbortReasonTsmTimeout: "tsm-timeout",
		AbortReasonApduTooLong: "apdu-too-long",
	}
	if name, ok := names[a]; ok {
		return name
	}
	return fmt.Sprintf("abort-reason(%d)", a)
}

// AbortError is a decoded Abort-PDU.
type AbortError struct {
	InvokeID uint8
	Server   bool
	Reason   AbortReason
}

func (e *AbortError) Error() string {
	origin := "client"
	if e.Server {
		origin = "server"
	}
	return fmt.Sprintf("bacnet abort: invoke-id=%d, origin=%s, reason=%s", e.InvokeID, origin, e.Reason)
}

// IsTimeout reports whether err is (or wraps) a request timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsDeviceNotFound reports whether err indicates the target device
// could not be located.
func IsDeviceNotFound(err error) bool {
	if errors.Is(err, ErrDeviceNotFound) {
		return true
	}
	var bacnetErr *BACnetError
	if errors.As(err, &bacnetErr) {
		return bacnetErr.Code == ErrorCodeUnknownDevice || bacnetErr.Code == ErrorCodeUnknownObject
	}
	return false
}

// IsPropertyNotFound reports whether err indicates the requested
// property does not exist on the object.
func IsPropertyNotFound(err error) bool {
	if errors.Is(err, ErrPropertyNotFound) {
		return true
	}
	var bacnetErr *BACnetError
	if errors.As(err, &bacnetErr) {
		return bacnetErr.Code == ErrorCodeUnknownProperty
	}
	return false
}

// IsAccessDenied reports whether err indicates a read/write access
// violation (e.g. a priority-6 write to an object that declares a
// minimum on/off time, or a Present_Value write to an in-service,
// non-commandable object).
func IsAccessDenied(err error) bool {
	var bacnetErr *BACnetError
	if errors.As(err, &bacnetErr) {
		return bacnetErr.Code == ErrorCodeReadAccessDenied || bacnetErr.Code == ErrorCodeWriteAccessDenied
	}
	return false
}
